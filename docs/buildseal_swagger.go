package docs

import (
	"github.com/buildseal/buildseal/core/domain"
)

/*
An empty response.

swagger:response
*/
type emptyResponse struct{}

/*
The service is ready to run builds.

swagger:response
*/
type readinessReady struct{}

/*
The service is not ready to run builds.

swagger:response
*/
type readinessServiceUnavailable struct{}

/*
swagger:route GET /v1/liveness probes getLiveness
Checks if the process is serving.

Responses:
  200: emptyResponse
*/

/*
swagger:route GET /v1/readiness probes getReadiness
Checks if the builder daemon and the scanner database are reachable.

Responses:
  200: readinessReady
  503: readinessServiceUnavailable
*/

/*
A request to run the pipeline once. Both fields are optional: a missing
buildID is assigned by the service, the identity token enables keyless
signing and is held in memory only.

Example: {"buildID": "7b04592b-665a-4e47-a9c9-65b2b3cabb49", "identityToken": "eyJh..."}

swagger:parameters postBuild
*/
type postBuildParams struct {
	// In: body
	Body struct {
		BuildID       string `json:"buildID"`
		IdentityToken string `json:"identityToken"`
	}
}

/*
The run has been accepted and executes asynchronously. The problem detail
carries the assigned buildID.

swagger:response postBuildAccepted
*/
type postBuildAccepted struct{}

/*
The request body was malformed.

swagger:response postBuildBadRequest
*/
type postBuildBadRequest struct{}

/*
swagger:route POST /v1/builds builds postBuild
Submits a sealed build run.

The pipeline builds, scans, consolidates, attests and verifies the image,
then assembles the compliance report whatever the outcome.

Responses:
  202: postBuildAccepted
  400: postBuildBadRequest
*/

/*
The compliance report of a finished run.

swagger:response getReportOK
*/
type getReportOK struct {
	// In: body
	Body domain.ComplianceReport
}

/*
No report exists for the given buildID.

swagger:response getReportNotFound
*/
type getReportNotFound struct{}

/*
swagger:route GET /v1/builds/{id}/report builds getReport
Returns the compliance report for a build.

Responses:
  200: getReportOK
  404: getReportNotFound
*/

/*
The artifact references recorded for a build.

swagger:response listArtifactsOK
*/
type listArtifactsOK struct {
	// In: body
	Body []domain.ArtifactRef
}

/*
swagger:route GET /v1/builds/{id}/artifacts builds listArtifacts
Lists the artifacts a run produced.

Responses:
  200: listArtifactsOK
  404: getReportNotFound
*/

/*
The kind path segment does not name a known artifact kind.

swagger:response getArtifactBadRequest
*/
type getArtifactBadRequest struct{}

/*
swagger:route GET /v1/builds/{id}/artifacts/{kind} builds getArtifact
Returns one artifact's content.

Responses:
  200: emptyResponse
  400: getArtifactBadRequest
  404: getReportNotFound
*/
