package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RegisterSwagger registers minimal Swagger/OpenAPI endpoints for the admin
// service.
// - GET /swagger/index.html  -> a small HTML page that loads the OpenAPI JSON
// - GET /swagger/doc.json    -> machine-readable OpenAPI JSON
func RegisterSwagger(rg *gin.Engine) {
	rg.GET("/swagger/index.html", func(c *gin.Context) {
		c.Header("Content-Type", "text/html; charset=utf-8")
		c.String(http.StatusOK, swaggerHTML)
	})

	rg.GET("/swagger/doc.json", func(c *gin.Context) {
		c.Data(http.StatusOK, "application/json", []byte(swaggerJSON))
	})
}

const swaggerHTML = `<!doctype html>
<html>
  <head>
    <meta charset="utf-8" />
    <title>capsync — Swagger</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@4/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@4/swagger-ui-bundle.js"></script>
    <script>
      window.ui = SwaggerUIBundle({
        url: '/swagger/doc.json',
        dom_id: '#swagger-ui',
      })
    </script>
  </body>
</html>`

// Minimal OpenAPI document describing the admin endpoints.
const swaggerJSON = `{
  "openapi": "3.0.0",
  "info": { "title": "capsync", "version": "v0.1.0" },
  "paths": {
    "/sync/{project}": {
      "post": {
        "summary": "Trigger an incremental sync for one REDCap project",
        "parameters": [ { "name": "project", "in": "path", "required": true, "schema": { "type": "string" } } ],
        "responses": {
          "200": { "description": "sync report" },
          "404": { "description": "no token configured for project" },
          "409": { "description": "sync already running" }
        }
      }
    },
    "/sync/{project}/status": {
      "get": {
        "summary": "Last sync watermark for a project",
        "parameters": [ { "name": "project", "in": "path", "required": true, "schema": { "type": "string" } } ],
        "responses": { "200": { "description": "watermark or synced=false" } }
      }
    },
    "/sync/{project}/drift": {
      "get": {
        "summary": "Stored variables vs the project's current data dictionary",
        "parameters": [ { "name": "project", "in": "path", "required": true, "schema": { "type": "string" } } ],
        "responses": {
          "200": { "description": "drift report" },
          "404": { "description": "no token configured for project" }
        }
      }
    },
    "/audit": {
      "get": { "summary": "Recent operational audit entries", "responses": { "200": { "description": "entries" } } }
    },
    "/backups/{project}": {
      "get": {
        "summary": "List backup objects for a project",
        "parameters": [ { "name": "project", "in": "path", "required": true, "schema": { "type": "string" } } ],
        "responses": { "200": { "description": "object keys" } }
      }
    },
    "/health": { "get": { "summary": "Liveness check", "responses": { "200": { "description": "healthy" } } } },
    "/ready": { "get": { "summary": "Readiness check", "responses": { "200": { "description": "ready" }, "503": { "description": "not ready" } } } },
    "/metrics": { "get": { "summary": "Prometheus metrics", "responses": { "200": { "description": "metrics exposition" } } } }
  }
}`
