package signing

import (
	"encoding/hex"

	"github/chapool/go-staking/internal/api/httperrors"
	"github/chapool/go-staking/internal/staking"
	"github/chapool/go-staking/internal/staking/pipeline"
)

// SigningOptions select keys, signer backends and submission of a pipeline run
type SigningOptions struct {
	Key             string            `json:"key"`
	RoleKeys        map[string]string `json:"roleKeys"`
	RoleSigners     map[string]string `json:"roleSigners"`
	Roles           []string          `json:"roles"`
	Broadcast       bool              `json:"broadcast"`
	WaitForFinality bool              `json:"waitForFinality"`
	Note            string            `json:"note"`
}

// PostSignPayload signs a caller supplied unsigned transaction
type PostSignPayload struct {
	SigningOptions
	Chain string `json:"chain"`
	// Unsigned is hex (optionally 0x prefixed) unless Encoding is base64
	Unsigned       string `json:"unsigned"`
	Encoding       string `json:"encoding"`
	SigningPayload string `json:"signingPayload"`
}

// PostResumePayload continues a partially signed transaction
type PostResumePayload struct {
	SigningOptions
	Partial *staking.PartialTransaction `json:"partial"`
}

// PostStakePayload builds a transaction through the staking API and runs it
type PostStakePayload struct {
	SigningOptions
	Params map[string]any `json:"params"`
}

type FinalityResponse struct {
	Status  string `json:"status"`
	Success bool   `json:"success"`
}

type ResultResponse struct {
	Name              string                      `json:"name,omitempty"`
	Chain             string                      `json:"chain"`
	Success           bool                        `json:"success"`
	State             string                      `json:"state"`
	Digest            string                      `json:"digest,omitempty"`
	TransactionHash   string                      `json:"transactionHash,omitempty"`
	SignedTransaction string                      `json:"signedTransaction,omitempty"`
	Partial           *staking.PartialTransaction `json:"partial,omitempty"`
	Finality          *FinalityResponse           `json:"finality,omitempty"`
	Error             *httperrors.HTTPError       `json:"error,omitempty"`
}

type ChainItem struct {
	Chain       string   `json:"chain"`
	Curve       string   `json:"curve"`
	Operations  []string `json:"operations"`
	Broadcaster string   `json:"broadcaster,omitempty"`
}

type GetChainsResponse struct {
	Chains []*ChainItem `json:"chains"`
}

type TxStatusResponse struct {
	Hash    string `json:"hash"`
	Status  string `json:"status"`
	Success bool   `json:"success"`
	Failed  bool   `json:"failed"`
}

func (o SigningOptions) request(ch staking.ChainKind) pipeline.Request {
	req := pipeline.Request{
		Chain:           ch,
		KeyRef:          o.Key,
		RoleKeys:        roleMap(o.RoleKeys),
		RoleSigners:     roleMap(o.RoleSigners),
		Broadcast:       o.Broadcast,
		WaitForFinality: o.WaitForFinality,
		Note:            o.Note,
	}
	for _, r := range o.Roles {
		req.Roles = append(req.Roles, staking.Role(r))
	}
	return req
}

func roleMap(in map[string]string) map[staking.Role]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[staking.Role]string, len(in))
	for k, v := range in {
		out[staking.Role(k)] = v
	}
	return out
}

// ResultToResponse converts a pipeline result; a result error is rendered like a failed request body
func ResultToResponse(res *pipeline.Result) *ResultResponse {
	out := &ResultResponse{
		Name:            res.Name,
		Chain:           string(res.Chain),
		Success:         res.Success,
		State:           string(res.State),
		Digest:          res.Digest,
		TransactionHash: res.TransactionHash,
		Partial:         res.Partial,
	}
	if res.Signed != nil {
		out.SignedTransaction = hex.EncodeToString(res.Signed.Raw)
	}
	if res.Finality != nil {
		out.Finality = &FinalityResponse{Status: res.Finality.Status, Success: res.Finality.Success}
	}
	if res.Err != nil {
		out.Error = httperrors.FromPipelineError(res.Err)
	}
	return out
}
