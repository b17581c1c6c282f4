package models

const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

// ListParams pages through records ordered by creation time. An empty State
// matches every state.
type ListParams struct {
	Limit  int
	Offset int
	State  string
}

// Normalized applies the default and maximum limit and clamps a negative
// offset to zero.
func (p ListParams) Normalized() ListParams {
	if p.Limit <= 0 {
		p.Limit = DefaultListLimit
	}
	if p.Limit > MaxListLimit {
		p.Limit = MaxListLimit
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}
