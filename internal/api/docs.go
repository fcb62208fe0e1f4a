package api

// @title IssueSync API
// @version 1.0
// @description Bidirectional synchronization between a project's local issues and a GitHub repository.
// @description Bind a repository, run syncs in either direction and manage local issues.

// @contact.name IssueSync Maintainers
// @contact.url https://github.com/johnnynv/issuesync

// @license.name MIT
// @license.url https://github.com/johnnynv/issuesync/blob/main/LICENSE

// @host localhost:8080
// @BasePath /

// @schemes http https

// @tag.name Health
// @tag.description Health check and readiness endpoints

// @tag.name Repository
// @tag.description GitHub repository binding

// @tag.name Sync
// @tag.description Sync runs and status

// @tag.name Issues
// @tag.description Local issues and comments

// @tag.name System
// @tag.description System information and version
