package chain

import (
	"github/chapool/go-staking/internal/staking"
)

// MatchWitnesses maps witnesses onto the required roles.
// It fails with UnknownSignerRole for a witness whose role is not required or appears twice.
func MatchWitnesses(chain staking.ChainKind, required []staking.RoleRequirement, witnesses []staking.Witness) (map[staking.Role]staking.Witness, []staking.Role, error) {
	known := make(map[staking.Role]struct{}, len(required))
	for _, r := range required {
		known[r.Role] = struct{}{}
	}

	byRole := make(map[staking.Role]staking.Witness, len(witnesses))
	for _, w := range witnesses {
		if _, ok := known[w.Role]; !ok {
			return nil, nil, &staking.PipelineError{
				Kind:    staking.KindUnknownSignerRole,
				Chain:   chain,
				Role:    w.Role,
				Message: "witness role is not required by the transaction",
			}
		}
		if _, dup := byRole[w.Role]; dup {
			return nil, nil, &staking.PipelineError{
				Kind:    staking.KindUnknownSignerRole,
				Chain:   chain,
				Role:    w.Role,
				Message: "duplicate witness for role",
			}
		}
		byRole[w.Role] = w
	}

	var missing []staking.Role
	for _, r := range required {
		if _, ok := byRole[r.Role]; !ok {
			missing = append(missing, r.Role)
		}
	}

	return byRole, missing, nil
}

// Incomplete creates an IncompleteWitnessSet error naming the missing roles
func Incomplete(chain staking.ChainKind, missing []staking.Role) *staking.PipelineError {
	return &staking.PipelineError{
		Kind:    staking.KindIncompleteWitnessSet,
		Chain:   chain,
		Message: "missing witnesses for roles " + roleList(missing),
	}
}

func roleList(roles []staking.Role) string {
	s := "["
	for i, r := range roles {
		if i > 0 {
			s += ","
		}
		s += string(r)
	}
	return s + "]"
}
