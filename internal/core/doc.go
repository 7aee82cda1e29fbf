// Package core is the service layer behind the HTTP API and the batch export
// job. It ties project loading, mapping management, archive exports and
// uniqueness checks together and owns the policies around them: how many
// exports may run at once, where archives live, how long they are kept, and
// how errors are presented to clients.
//
// # Exports
//
// [Service.Export] writes one archive per project and user under
//
//	<EXPORT_DIR>/<project ref>/<user id>/<project slug>-<format>.zip
//
// Each run replaces the previous archive in its directory. Runs are bounded
// by an [ExportLimiter] and a timeout, recorded in the export history, and
// swept by [Service.StartCleanupScheduler] once they exceed the retention
// period.
//
// # Errors
//
// Errors returned by the service wrap sentinel values from the packages
// below it. [MapError] turns any of them into a [UserMessage] with a support
// code; see error_messages.go for the full list.
package core
