// Package types provides shared type definitions for the sitekb MCP server.
//
// This package defines the domain types used across the build pipeline and the
// answer path: chunks of page text, tenant build state and build progress, and
// retrieval results.
//
// # Core Types
//
// Chunk is the unit of indexing and retrieval. It carries the header breadcrumb
// it was found under so answers can cite it:
//
//	chunk := types.Chunk{
//	    Text:       "Our enterprise plan includes SSO.",
//	    SourceURL:  "https://acme.test/pricing",
//	    Title:      "Pricing",
//	    HeaderPath: []string{"Plans", "Enterprise"},
//	}
//	chunk.Citation() // "Pricing > Plans > Enterprise (https://acme.test/pricing)"
//
// TenantState is one company's knowledge base record. Its Status moves through
//
//	not_started -> building -> ready | failed
//	ready -> building, failed -> building
//
// and is only written by the build task that owns the tenant.
//
// # Namespaces
//
// Every tenant's chunks live in an isolated namespace derived from its id and
// name with NamespaceFor:
//
//	types.NamespaceFor(7, "Acme Corp") // "company_7_acme_corp"
//
// # Errors
//
// Sentinel errors are matched with errors.Is. Configuration errors such as
// ErrNoSeedURLs and ErrTenantNotFound are returned synchronously and never start
// a build.
package types
