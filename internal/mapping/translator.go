// Package mapping converts between local issues and their GitHub form.
package mapping

import (
	"sort"

	"github.com/johnnynv/issuesync/internal/gitclient"
	"github.com/johnnynv/issuesync/pkg/types"
)

const (
	RemoteStateOpen   = "open"
	RemoteStateClosed = "closed"
)

// RemoteState collapses a local status onto GitHub's two states
func RemoteState(status types.IssueStatus) string {
	switch status {
	case types.IssueStatusClosed, types.IssueStatusResolved:
		return RemoteStateClosed
	default:
		return RemoteStateOpen
	}
}

// StatusFor picks the local status after pulling remoteState. A finer local
// status that already collapses to remoteState is kept.
func StatusFor(current types.IssueStatus, remoteState string) types.IssueStatus {
	if current != "" && RemoteState(current) == remoteState {
		return current
	}
	if remoteState == RemoteStateClosed {
		return types.IssueStatusClosed
	}
	return types.IssueStatusOpen
}

// RemoteIssue is the remote-observable projection of an issue
type RemoteIssue struct {
	Title     string
	Body      string
	State     string
	Labels    []types.Label
	Milestone string
}

// Payload converts the projection into an update payload
func (r RemoteIssue) Payload(withLabels bool) gitclient.IssuePayload {
	title, body, state := r.Title, r.Body, r.State
	payload := gitclient.IssuePayload{Title: &title, Body: &body, State: &state}
	if withLabels {
		names := LabelNames(r.Labels)
		payload.Labels = &names
	}
	return payload
}

// ToRemote produces the GitHub form of a local issue. Local-only fields
// travel in the metadata block.
func ToRemote(issue *types.Issue) (RemoteIssue, error) {
	body, err := EncodeBody(issue.Description, Metadata{
		LocalID:        issue.SyncMarker,
		StoryPoints:    issue.StoryPoints,
		EstimatedHours: issue.EstimatedHours,
		Relations:      issue.Relations,
	})
	if err != nil {
		return RemoteIssue{}, err
	}

	return RemoteIssue{
		Title:     issue.Title,
		Body:      body,
		State:     RemoteState(issue.Status),
		Labels:    normalizeLabels(issue.Labels),
		Milestone: issue.MilestoneTitle,
	}, nil
}

// FromRemote builds a local issue from its GitHub form. Fields with no
// remote source stay nil. A malformed metadata block is reported as a
// MappingError alongside an issue whose description is the raw body.
func FromRemote(remote gitclient.RemoteIssue) (*types.Issue, error) {
	description, meta, mapErr := DecodeBody(remote.Body)

	id := remote.ID
	number := remote.Number
	issue := &types.Issue{
		Title:          remote.Title,
		Description:    description,
		Status:         StatusFor("", remote.State),
		Assignee:       remote.Assignee,
		Labels:         labelsFromRemote(remote.Labels),
		StoryPoints:    meta.StoryPoints,
		EstimatedHours: meta.EstimatedHours,
		Relations:      meta.Relations,
		SyncMarker:     meta.LocalID,
		GitHubID:       &id,
		GitHubNumber:   &number,
		GitHubURL:      remote.HTMLURL,
	}
	if remote.Milestone != nil {
		issue.MilestoneTitle = remote.Milestone.Title
	}
	return issue, mapErr
}

// Project returns the remote-observable projection of a GitHub issue, for
// comparison against ToRemote output
func Project(remote gitclient.RemoteIssue) RemoteIssue {
	r := RemoteIssue{
		Title:  remote.Title,
		Body:   remote.Body,
		State:  remote.State,
		Labels: normalizeLabels(labelsFromRemote(remote.Labels)),
	}
	if remote.Milestone != nil {
		r.Milestone = remote.Milestone.Title
	}
	return r
}

// Equal compares two projections field by field. Label order is ignored.
func Equal(a, b RemoteIssue, withLabels bool) bool {
	if a.Title != b.Title || a.Body != b.Body || a.State != b.State {
		return false
	}
	if !withLabels {
		return true
	}
	return LabelsEqual(a.Labels, b.Labels)
}

// LabelsEqual compares label sets by (name, color)
func LabelsEqual(a, b []types.Label) bool {
	na, nb := normalizeLabels(a), normalizeLabels(b)
	if len(na) != len(nb) {
		return false
	}
	for i := range na {
		if na[i].Name != nb[i].Name || na[i].Color != nb[i].Color {
			return false
		}
	}
	return true
}

// LabelNames lists label names in a stable order
func LabelNames(labels []types.Label) []string {
	names := make([]string, 0, len(labels))
	for _, l := range normalizeLabels(labels) {
		names = append(names, l.Name)
	}
	return names
}

func labelsFromRemote(remote []gitclient.RemoteLabel) []types.Label {
	labels := make([]types.Label, 0, len(remote))
	for _, l := range remote {
		labels = append(labels, types.Label{
			Name:        l.Name,
			Color:       types.NormalizeColor(l.Color),
			Description: l.Description,
		})
	}
	return labels
}

func normalizeLabels(labels []types.Label) []types.Label {
	out := make([]types.Label, 0, len(labels))
	for _, l := range labels {
		l.Color = types.NormalizeColor(l.Color)
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
