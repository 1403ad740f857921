package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

func tenantIDProperty() map[string]interface{} {
	return map[string]interface{}{
		"type":        "integer",
		"description": "Tenant (company) identifier",
		"minimum":     1,
	}
}

func urlsProperty(description string) map[string]interface{} {
	return map[string]interface{}{
		"type":        "array",
		"description": description,
		"items": map[string]interface{}{
			"type":   "string",
			"format": "uri",
		},
	}
}

// registerTenantTool returns the tool definition for register_tenant
func registerTenantTool() mcp.Tool {
	return mcp.Tool{
		Name:        "register_tenant",
		Description: "Create or update a tenant with its company name and website URLs",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"tenant_id": tenantIDProperty(),
				"name": map[string]interface{}{
					"type":        "string",
					"description": "Company name; fixes the knowledge base namespace on first registration",
				},
				"seed_urls": urlsProperty("Website URLs (pages or sitemaps) to build the knowledge base from"),
			},
			Required: []string{"tenant_id"},
		},
	}
}

// addDocumentTool returns the tool definition for add_document
func addDocumentTool() mcp.Tool {
	return mcp.Tool{
		Name:        "add_document",
		Description: "Store an uploaded document's text; it is indexed on the next build",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"tenant_id": tenantIDProperty(),
				"name": map[string]interface{}{
					"type":        "string",
					"description": "Document name; uploading the same name again replaces it",
				},
				"text": map[string]interface{}{
					"type":        "string",
					"description": "Extracted document text, markdown headers allowed",
				},
			},
			Required: []string{"tenant_id", "name", "text"},
		},
	}
}

// buildKnowledgeBaseTool returns the tool definition for build_knowledge_base
func buildKnowledgeBaseTool() mcp.Tool {
	return mcp.Tool{
		Name:        "build_knowledge_base",
		Description: "Start building the tenant's knowledge base in the background",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"tenant_id": tenantIDProperty(),
				"urls":      urlsProperty("Optional URLs used instead of the tenant's stored website URLs"),
			},
			Required: []string{"tenant_id"},
		},
	}
}

// rescrapeKnowledgeBaseTool returns the tool definition for rescrape_knowledge_base
func rescrapeKnowledgeBaseTool() mcp.Tool {
	return mcp.Tool{
		Name:        "rescrape_knowledge_base",
		Description: "Rebuild a ready knowledge base from a fresh crawl",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"tenant_id": tenantIDProperty(),
				"urls":      urlsProperty("Optional URLs used instead of the tenant's stored website URLs"),
			},
			Required: []string{"tenant_id"},
		},
	}
}

// knowledgeBaseStatusTool returns the tool definition for knowledge_base_status
func knowledgeBaseStatusTool() mcp.Tool {
	return mcp.Tool{
		Name:        "knowledge_base_status",
		Description: "Report build status, progress and document count of the tenant's knowledge base",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"tenant_id": tenantIDProperty(),
			},
			Required: []string{"tenant_id"},
		},
	}
}

// chatTool returns the tool definition for chat
func chatTool() mcp.Tool {
	return mcp.Tool{
		Name:        "chat",
		Description: "Answer a visitor question from the tenant's knowledge base, citing sources",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"tenant_id": tenantIDProperty(),
				"message": map[string]interface{}{
					"type":        "string",
					"description": "Visitor question",
				},
				"top_k": map[string]interface{}{
					"type":        "integer",
					"description": "Number of knowledge base chunks to retrieve (1-20)",
					"default":     5,
					"minimum":     1,
					"maximum":     20,
				},
			},
			Required: []string{"tenant_id", "message"},
		},
	}
}

// disableAssistantTool returns the tool definition for disable_assistant
func disableAssistantTool() mcp.Tool {
	return mcp.Tool{
		Name:        "disable_assistant",
		Description: "Turn the tenant's assistant off and cancel any running build",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"tenant_id": tenantIDProperty(),
			},
			Required: []string{"tenant_id"},
		},
	}
}
