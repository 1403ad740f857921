// Package build runs knowledge base builds and tracks their status.
//
// A build crawls a tenant's website, chunks every page (and the tenant's
// uploaded documents), embeds the chunks and writes them into a fresh
// generation of the tenant's namespace. Only when the whole build succeeds is
// the generation activated, replacing the previous knowledge base in one step.
//
// # Lifecycle
//
// Each tenant's status is owned by a Machine:
//
//	not_started -> building -> ready | failed
//	ready -> building, failed -> building
//
// The Orchestrator starts at most one background task per tenant. Racing
// triggers resolve through a per-tenant try-lock, then through a conditional
// claim of the tenant row, so a build started by another process sharing the
// database is respected too. The losers get types.ErrBuildInProgress:
//
//	ack, err := orch.TriggerBuild(ctx, tenantID, nil)
//	if errors.Is(err, types.ErrBuildInProgress) {
//	    // a build is already running
//	}
//	report, _ := orch.Status(ctx, tenantID)
//
// # Failures
//
// Configuration errors (unknown tenant, no seed URLs, an invalid stored or
// override URL) are returned synchronously and change nothing. Errors inside a build end it
// in the failed status with a short message meant for the tenant; the raw
// error is only logged. A failed build leaves the previous knowledge base in
// place.
//
// Disable cancels a running build, which ends as failed with ai_enabled off.
// Builds are also bounded by Config.Timeout. RecoverStuck fails rows left in
// building by a previous process; a trigger only takes over a building row
// once it has gone Config.StaleAfter without updates.
package build
