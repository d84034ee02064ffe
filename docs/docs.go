/*
Package classification BuildSeal Pipeline Runner

The BuildSeal job runner accepts sealed container build requests and serves
the artifacts a run leaves behind.

Schemes: https, http
BasePath: /
Version: 1.0.0

Consumes:
- application/json
Produces:
- application/json

swagger:meta
*/
package docs
