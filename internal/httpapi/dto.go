package httpapi

import (
	"github.com/go-playground/validator/v10"

	"github.com/dhannusch/pincer/internal/manifest"
)

var validate = validator.New()

// connectRequest is POST /v1/connect's body.
type connectRequest struct {
	Code string `json:"code" validate:"required"`
}

// bootstrapRequest is POST /v1/admin/bootstrap's body.
type bootstrapRequest struct {
	Token    string `json:"token" validate:"required"`
	Username string `json:"username" validate:"required,min=3,max=64"`
	Password string `json:"password" validate:"required,min=12"`
}

// loginRequest is POST /v1/admin/session/login's body.
type loginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// rejectRequest is POST /v1/admin/adapters/proposals/:id/reject's body.
// Reason length is enforced by registry.RejectProposal itself, which
// returns apierr.ErrInvalidReason rather than the generic invalid_payload
// kind so callers can distinguish the two failure modes.
type rejectRequest struct {
	Reason string `json:"reason"`
}

// applyRequest is POST /v1/admin/adapters/apply's body. Exactly one of
// ProposalID or Manifest must be present; that cross-field rule is
// enforced by registry.Apply itself since it is not a static shape
// constraint validator can express well.
type applyRequest struct {
	ProposalID string             `json:"proposalId"`
	Manifest   *manifest.Manifest `json:"manifest"`
}

// secretPutRequest is PUT /v1/admin/secrets/:binding's body.
type secretPutRequest struct {
	Value string `json:"value" validate:"required"`
}

// pairingGenerateRequest is POST /v1/admin/pairing/generate's body.
type pairingGenerateRequest struct {
	WorkerURL  string `json:"workerUrl" validate:"required,url"`
	RuntimeKey string `json:"runtimeKey" validate:"required"`
	HMACSecret string `json:"hmacSecret" validate:"required"`
}

// proposalSubmitRequest is POST /v1/adapters/proposals's body.
type proposalSubmitRequest struct {
	Manifest   *manifest.Manifest `json:"manifest" validate:"required"`
	ClientNote string             `json:"clientNote" validate:"max=280"`
}
