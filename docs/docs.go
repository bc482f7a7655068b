// Package docs embeds the admin API's OpenAPI document.
package docs

import _ "embed"

//go:embed api/openapi.yaml
var OpenAPI []byte
