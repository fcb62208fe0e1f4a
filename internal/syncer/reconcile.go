package syncer

import (
	"context"
	"fmt"
	"time"

	"github.com/johnnynv/issuesync/internal/gitclient"
	"github.com/johnnynv/issuesync/internal/mapping"
	"github.com/johnnynv/issuesync/pkg/types"
)

const dryRunReason = "dry run"

// baseline is the point after which an edit on either side counts as a
// change. An issue's own last sync wins over the binding watermark, so a
// change a one-way run had to skip stays visible to later runs and the
// echo of our own remote writes is not mistaken for a remote edit.
func (r *run) baseline(local *types.Issue) time.Time {
	if local.LastSyncAt != nil {
		return *local.LastSyncAt
	}
	return r.binding.Watermark()
}

// sameContent compares what the local issue would look like on GitHub
// with what GitHub has
func (r *run) sameContent(local *types.Issue, remote *gitclient.RemoteIssue) (bool, error) {
	same, _, err := r.compare(local, remote)
	return same, err
}

// compare reports whether GitHub already shows local, and if not, whether
// the metadata block is the only difference
func (r *run) compare(local *types.Issue, remote *gitclient.RemoteIssue) (same, blockOnly bool, err error) {
	want, err := r.toRemote(local)
	if err != nil {
		return false, false, err
	}
	have := mapping.Project(*remote)
	if r.equal(want, have) {
		return true, false, nil
	}

	wantDescription, _, _ := mapping.DecodeBody(want.Body)
	haveDescription, _, decodeErr := mapping.DecodeBody(have.Body)
	if decodeErr != nil || wantDescription != haveDescription {
		return false, false, nil
	}
	want.Body, have.Body = "", ""
	return false, r.equal(want, have), nil
}

func (r *run) equal(want, have mapping.RemoteIssue) bool {
	if !mapping.Equal(want, have, r.opts.SyncLabels) {
		return false
	}
	return !r.opts.SyncMilestones || want.Milestone == have.Milestone
}

// classify decides which side of a matched pair moved since the baseline.
// Equal content is NO_CHANGE whatever the timestamps say. A pair that
// differs only in the metadata block is LOCAL_NEWER: local-only fields are
// owned locally, so the block on GitHub is refreshed from them.
func (r *run) classify(local *types.Issue, remote *gitclient.RemoteIssue) (types.IssueState, error) {
	same, blockOnly, err := r.compare(local, remote)
	if err != nil {
		return types.StateMatched, err
	}
	if same {
		return types.StateNoChange, nil
	}
	if blockOnly {
		return types.StateLocalNewer, nil
	}

	base := r.baseline(local)
	localChanged := base.IsZero() || local.UpdatedAt.After(base) ||
		local.SyncStatus == types.SyncStatusSyncFailed || local.SyncStatus == types.SyncStatusPendingSync
	remoteChanged := base.IsZero() || remote.UpdatedAt.After(base)

	switch {
	case localChanged && remoteChanged:
		return types.StateConflict, nil
	case localChanged:
		return types.StateLocalNewer, nil
	case remoteChanged:
		return types.StateRemoteNewer, nil
	default:
		return types.StateNoChange, nil
	}
}

// reconcilePair handles an issue present on both sides
func (r *run) reconcilePair(ctx context.Context, local *types.Issue, remote *gitclient.RemoteIssue, linked bool) {
	local = local.Clone()
	if local.IsDeleted() {
		r.reconcileDeleted(ctx, local, remote)
		return
	}

	if linked {
		stampRemote(local, remote)
	}

	classification, err := r.classify(local, remote)
	if err != nil {
		r.fail(local, remote, classification, types.ActionNone, err)
		return
	}

	switch classification {
	case types.StateRemoteNewer, types.StateConflict:
		if !r.opts.Direction.Pulls() {
			r.skipPair(ctx, local, remote, linked, classification, "remote wins, pull disabled")
			return
		}
		if !r.pull(ctx, local, remote, classification) {
			return
		}
	case types.StateLocalNewer:
		if !r.opts.Direction.Pushes() {
			r.skipPair(ctx, local, remote, linked, classification, "push disabled")
			return
		}
		if !r.push(ctx, local, remote, classification) {
			return
		}
	default:
		r.unchanged(ctx, local, remote, linked)
	}

	if !r.opts.DryRun {
		r.syncSubResources(ctx, local, remote)
	}
}

// unchanged settles a NO_CHANGE pair. A pair found through its body marker
// is linked here.
func (r *run) unchanged(ctx context.Context, local *types.Issue, remote *gitclient.RemoteIssue, linked bool) {
	action, state, reason := types.ActionNone, types.StateSkipped, "no change"
	if linked {
		action, state, reason = types.ActionLink, types.StateApplied, "linked by marker"
	}
	if r.opts.DryRun {
		if linked {
			reason = dryRunReason
		}
		r.record(outcome(local, remote, types.StateNoChange, state, action, reason))
		return
	}

	// Remote activity that left the content equal (a new comment, an edit
	// and its revert) still moves the baseline forward
	stale := remote.UpdatedAt.After(r.baseline(local))
	if linked || stale || local.SyncStatus != types.SyncStatusSynced || local.SyncError != "" {
		err := r.writeBack(ctx, local, func(fresh *types.Issue) {
			stampRemote(fresh, remote)
			markSynced(fresh, r.started)
		})
		if err != nil {
			r.fail(local, remote, types.StateNoChange, action, err)
			return
		}
	}
	r.record(outcome(local, remote, types.StateNoChange, state, action, reason))
}

// skipPair records a pair the direction does not allow to apply. Marker
// links are still saved so the pair is matched by id next time.
func (r *run) skipPair(ctx context.Context, local *types.Issue, remote *gitclient.RemoteIssue, linked bool, classification types.IssueState, reason string) {
	if linked && !r.opts.DryRun {
		if err := r.writeBack(ctx, local, func(fresh *types.Issue) { stampRemote(fresh, remote) }); err != nil {
			r.fail(local, remote, classification, types.ActionLink, err)
			return
		}
	}
	r.skip(local, remote, classification, reason)
}

// pull overwrites the synced fields of local with the remote issue.
// Local-only fields are kept.
func (r *run) pull(ctx context.Context, local *types.Issue, remote *gitclient.RemoteIssue, classification types.IssueState) bool {
	if r.opts.DryRun {
		r.record(outcome(local, remote, classification, types.StateApplied, types.ActionUpdateLocal, dryRunReason))
		return true
	}

	pulled, mapErr := mapping.FromRemote(*remote)
	if mapErr != nil {
		r.result.AddError(entityName(local, remote), mapErr)
	}

	err := r.writeBack(ctx, local, func(fresh *types.Issue) {
		fresh.Title = pulled.Title
		fresh.Description = pulled.Description
		fresh.Status = mapping.StatusFor(fresh.Status, remote.State)
		if r.opts.SyncLabels {
			fresh.Labels = pulled.Labels
		}
		if r.opts.SyncMilestones && pulled.MilestoneTitle != "" {
			fresh.MilestoneTitle = pulled.MilestoneTitle
		}
		stampRemote(fresh, remote)
		markSynced(fresh, r.started)
		fresh.UpdatedAt = r.started
	})
	if err != nil {
		r.fail(local, remote, classification, types.ActionUpdateLocal, err)
		return false
	}
	r.mirrorResources(ctx, local, remote)
	if r.opts.Direction.Pushes() {
		r.refreshBlock(ctx, local, remote)
	}

	r.record(outcome(local, remote, classification, types.StateApplied, types.ActionUpdateLocal, ""))
	return true
}

// push sends the local issue's synced fields to GitHub
func (r *run) push(ctx context.Context, local *types.Issue, remote *gitclient.RemoteIssue, classification types.IssueState) bool {
	if r.opts.DryRun {
		r.record(outcome(local, remote, classification, types.StateApplied, types.ActionUpdateRemote, dryRunReason))
		return true
	}

	payload, err := r.payload(ctx, local)
	if err != nil {
		r.failLocal(ctx, local, remote, classification, types.ActionUpdateRemote, err)
		return false
	}

	updated, err := r.client.UpdateIssue(ctx, remote.Number, payload)
	if err != nil {
		r.failLocal(ctx, local, remote, classification, types.ActionUpdateRemote, err)
		return false
	}

	err = r.writeBack(ctx, local, func(fresh *types.Issue) {
		stampRemote(fresh, updated)
		markSynced(fresh, later(r.started, updated.UpdatedAt))
	})
	if err != nil {
		r.fail(local, remote, classification, types.ActionUpdateRemote, err)
		return false
	}

	*remote = *updated
	r.record(outcome(local, remote, classification, types.StateApplied, types.ActionUpdateRemote, ""))
	return true
}

// reconcileDeleted handles a soft-deleted local issue whose remote still
// exists. Deletion is never propagated; a remote edit made after the
// deletion is reported once.
func (r *run) reconcileDeleted(ctx context.Context, local *types.Issue, remote *gitclient.RemoteIssue) {
	base := r.baseline(local)
	if !base.IsZero() && !remote.UpdatedAt.After(base) {
		return
	}
	same, err := r.sameContent(local, remote)
	if err != nil {
		r.fail(local, remote, types.StateMatched, types.ActionNone, err)
		return
	}
	if same {
		return
	}

	r.result.AddError(entityName(local, remote), &types.ConflictUnresolvableError{
		IssueID: local.ID,
		Reason:  fmt.Sprintf("deleted locally but github issue #%d changed", remote.Number),
	})
	r.skip(local, remote, types.StateConflict, "deleted locally")

	if !r.opts.DryRun {
		at := r.started
		if err := r.writeBack(ctx, local, func(fresh *types.Issue) { fresh.LastSyncAt = &at }); err != nil {
			r.result.AddError(entityName(local, remote), err)
		}
	}
}

// remoteMissing handles a linked local issue whose remote was not listed
func (r *run) remoteMissing(ctx context.Context, local *types.Issue) {
	local = local.Clone()
	number := 0
	if local.GitHubNumber != nil {
		number = *local.GitHubNumber
	}
	err := &types.NotFoundError{Resource: "github issue", ID: fmt.Sprintf("#%d", number)}

	if !r.opts.DryRun && local.SyncStatus != types.SyncStatusSyncFailed {
		if saveErr := r.writeBack(ctx, local, func(fresh *types.Issue) { markFailed(fresh, err) }); saveErr != nil {
			r.result.AddError(entityName(local, nil), saveErr)
		}
	}
	r.fail(local, nil, types.StateMatched, types.ActionNone, err)
}

// createLocal imports a remote issue that has no local counterpart
func (r *run) createLocal(ctx context.Context, remote *gitclient.RemoteIssue) {
	if !r.opts.Direction.Pulls() {
		r.skip(nil, remote, types.StateRemoteNewer, "pull disabled")
		return
	}

	issue, mapErr := mapping.FromRemote(*remote)
	if mapErr != nil {
		r.result.AddError(entityName(nil, remote), mapErr)
	}
	if r.opts.DryRun {
		r.record(outcome(nil, remote, types.StateRemoteNewer, types.StateApplied, types.ActionCreateLocal, dryRunReason))
		return
	}

	issue.ProjectID = r.binding.ProjectID
	if !r.opts.SyncLabels {
		issue.Labels = nil
	}
	if !r.opts.SyncMilestones {
		issue.MilestoneTitle = ""
	}
	markSynced(issue, r.started)
	issue.CreatedAt = remote.CreatedAt
	issue.UpdatedAt = r.started

	r.createMu.Lock()
	err := r.store.CreateIssue(ctx, issue)
	r.createMu.Unlock()
	if err != nil {
		r.fail(nil, remote, types.StateRemoteNewer, types.ActionCreateLocal, err)
		return
	}
	r.mirrorResources(ctx, issue, remote)

	r.record(outcome(issue, remote, types.StateRemoteNewer, types.StateApplied, types.ActionCreateLocal, ""))
	r.syncSubResources(ctx, issue, remote)
}

// createRemote publishes a local issue that has never been linked. The
// marker is saved before the remote create so a crash in between is
// repaired by linking on the next run.
func (r *run) createRemote(ctx context.Context, local *types.Issue) {
	local = local.Clone()
	if !r.opts.Direction.Pushes() {
		r.skip(local, nil, types.StateLocalNewer, "push disabled")
		return
	}
	if r.opts.DryRun {
		r.record(outcome(local, nil, types.StateLocalNewer, types.StateApplied, types.ActionCreateRemote, dryRunReason))
		return
	}

	err := r.writeBack(ctx, local, func(fresh *types.Issue) {
		fresh.SyncMarker = fresh.ID
		fresh.SyncStatus = types.SyncStatusPendingSync
	})
	if err != nil {
		r.fail(local, nil, types.StateLocalNewer, types.ActionCreateRemote, err)
		return
	}

	payload, err := r.payload(ctx, local)
	if err != nil {
		r.failLocal(ctx, local, nil, types.StateLocalNewer, types.ActionCreateRemote, err)
		return
	}

	created, err := r.client.CreateIssue(ctx, payload)
	if err != nil {
		r.failLocal(ctx, local, nil, types.StateLocalNewer, types.ActionCreateRemote, err)
		return
	}

	err = r.writeBack(ctx, local, func(fresh *types.Issue) {
		stampRemote(fresh, created)
		markSynced(fresh, later(r.started, created.UpdatedAt))
	})
	if err != nil {
		r.fail(local, created, types.StateLocalNewer, types.ActionCreateRemote, err)
		return
	}

	r.record(outcome(local, created, types.StateLocalNewer, types.StateApplied, types.ActionCreateRemote, ""))
	r.syncSubResources(ctx, local, created)
}

// payload builds the remote write for local, creating any label or
// milestone it references first
func (r *run) payload(ctx context.Context, local *types.Issue) (gitclient.IssuePayload, error) {
	want, err := r.toRemote(local)
	if err != nil {
		return gitclient.IssuePayload{}, err
	}
	payload := want.Payload(r.opts.SyncLabels)

	if r.opts.SyncLabels && len(local.Labels) > 0 {
		if err := r.labels.ensure(ctx, local.Labels); err != nil {
			return gitclient.IssuePayload{}, err
		}
	}
	if r.opts.SyncMilestones && local.MilestoneTitle != "" {
		number, err := r.milestones.number(ctx, local.MilestoneTitle)
		if err != nil {
			return gitclient.IssuePayload{}, err
		}
		payload.Milestone = &number
	}
	return payload, nil
}

// failLocal marks local SYNC_FAILED so the next run retries it, then
// records the failure
func (r *run) failLocal(ctx context.Context, local *types.Issue, remote *gitclient.RemoteIssue, classification types.IssueState, action types.SyncAction, err error) {
	if !isRateLimit(err) {
		if saveErr := r.writeBack(ctx, local, func(fresh *types.Issue) { markFailed(fresh, err) }); saveErr != nil {
			r.result.AddError(entityName(local, remote), saveErr)
		}
	}
	r.fail(local, remote, classification, action, err)
}

// refreshBlock pushes the body again after a pull when the metadata block
// on GitHub no longer matches the local-only fields the pull kept. A
// failure is reported and left for the next run, which sees a block-only
// difference.
func (r *run) refreshBlock(ctx context.Context, local *types.Issue, remote *gitclient.RemoteIssue) {
	want, err := r.toRemote(local)
	if err != nil || want.Body == remote.Body {
		return
	}

	body := want.Body
	updated, err := r.client.UpdateIssue(ctx, remote.Number, gitclient.IssuePayload{Body: &body})
	if err != nil {
		if isRateLimit(err) {
			r.haltRateLimited(err)
			return
		}
		r.result.AddError(entityName(local, remote), err)
		return
	}

	err = r.writeBack(ctx, local, func(fresh *types.Issue) {
		at := later(r.started, updated.UpdatedAt)
		fresh.LastSyncAt = &at
	})
	if err != nil {
		r.result.AddError(entityName(local, remote), err)
	}
	*remote = *updated
}

// writeBack applies change to the stored row inside one transaction and
// copies the result into local. Only what change touches is written, so a
// local edit that landed while the unit was talking to GitHub survives.
// Such an edit keeps its UpdatedAt and leaves the issue PENDING_SYNC, which
// the next run reads as a local change.
func (r *run) writeBack(ctx context.Context, local *types.Issue, change func(fresh *types.Issue)) error {
	seen := local.UpdatedAt
	fresh, err := r.store.UpdateIssue(ctx, local.ProjectID, local.ID, func(fresh *types.Issue) error {
		edited, editedAt := fresh.UpdatedAt.After(seen), fresh.UpdatedAt
		change(fresh)
		if edited {
			fresh.UpdatedAt = editedAt
			if fresh.SyncStatus == types.SyncStatusSynced {
				fresh.SyncStatus = types.SyncStatusPendingSync
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	*local = *fresh
	return nil
}

func stampRemote(local *types.Issue, remote *gitclient.RemoteIssue) {
	id, number := remote.ID, remote.Number
	local.GitHubID = &id
	local.GitHubNumber = &number
	if remote.HTMLURL != "" {
		local.GitHubURL = remote.HTMLURL
	}
}

// later returns the later of two instants, in UTC
func later(a, b time.Time) time.Time {
	if b.After(a) {
		return b.UTC()
	}
	return a.UTC()
}

func markFailed(issue *types.Issue, err error) {
	issue.SyncStatus = types.SyncStatusSyncFailed
	issue.SyncError = err.Error()
}

func markSynced(issue *types.Issue, at time.Time) {
	issue.SyncStatus = types.SyncStatusSynced
	issue.SyncError = ""
	issue.LastSyncAt = &at
}
