// Package mcp implements the Model Context Protocol (MCP) server for sitekb.
//
// The MCP server exposes the knowledge base operations as tools:
//   - register_tenant: Create or update a tenant's name and website URLs
//   - add_document: Store an uploaded document for the next build
//   - build_knowledge_base: Start a background build
//   - rescrape_knowledge_base: Rebuild a ready knowledge base
//   - knowledge_base_status: Report build status and progress
//   - chat: Answer a question from the knowledge base
//   - disable_assistant: Turn the assistant off and cancel a running build
//
// # Protocol Overview
//
// MCP is a JSON-RPC 2.0 protocol over stdio transport:
//
//	Client → Server: {"method": "tools/call", "params": {...}}
//	Server → Client: {"result": {...}}
//
// The server is started by the serve command and reads protocol messages from
// stdin until it closes:
//
//	sitekb serve
//
// # Tool: build_knowledge_base
//
// Builds run in the background. The call returns an acknowledgment at once:
//
//	Request:
//	{
//	  "name": "build_knowledge_base",
//	  "arguments": {
//	    "tenant_id": 7,
//	    "urls": ["https://acme.test/sitemap.xml"]
//	  }
//	}
//
//	Response:
//	{
//	  "tenant_id": 7,
//	  "build_id": "5b0c5a2e-6f0e-4d8e-9a59-1f3f7a0b2c11",
//	  "build_status": "building",
//	  "message": "Knowledge base build started. Use knowledge_base_status to follow its progress."
//	}
//
// # Tool: knowledge_base_status
//
//	Response:
//	{
//	  "tenant_id": 7,
//	  "build_status": "building",
//	  "ai_enabled": false,
//	  "document_count": 0,
//	  "running": true,
//	  "progress": {
//	    "step": "crawling",
//	    "message": "Reading page 3 of 20: acme.test",
//	    "urls_total": 20,
//	    "urls_done": 3
//	  }
//	}
//
// # Tool: chat
//
//	Request:
//	{
//	  "name": "chat",
//	  "arguments": {"tenant_id": 7, "message": "Do you ship abroad?"}
//	}
//
//	Response:
//	{
//	  "kind": "generated",
//	  "answer": "Yes, we ship worldwide.\n\nSources:\n- Shipping (https://acme.test/shipping)",
//	  "sources": [{"rank": 1, "url": "https://acme.test/shipping", "relevance": 0.82}]
//	}
//
// When no generation backend answers, kind is "fallback" and the answer starts
// with "[Automatic reply]".
//
// # MCP Client Configuration
//
//	{
//	  "mcpServers": {
//	    "sitekb": {
//	      "command": "/usr/local/bin/sitekb",
//	      "args": ["serve"],
//	      "env": {
//	        "GEMINI_API_KEY": "your-api-key"
//	      }
//	    }
//	  }
//	}
//
// # Error Handling
//
// Handler errors are *MCPError values carrying a JSON-RPC style code:
//   - -32602: Invalid params (missing/invalid arguments, no seed URLs, bad URL)
//   - -32603: Internal error (database and other unexpected failures)
//   - -32001: Tenant not found
//   - -32002: Build in progress
//   - -32003: Knowledge base not ready or assistant disabled
//   - -32004: Empty chat message
//   - -32005: Rescrape requested while the knowledge base is not ready
//
// # Logging
//
// The server logs to stderr with zap; stdout is reserved for the protocol.
package mcp
