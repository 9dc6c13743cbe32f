package core

// MatchTrace captures why each candidate policy matched or not.
type MatchTrace struct {
	// CorrelationID is the unique identifier for the evaluation request.
	CorrelationID string `yaml:"correlation_id" json:"correlation_id"`

	Provider  string    `yaml:"provider" json:"provider"`
	Principal Principal `yaml:"principal" json:"principal"`

	// Branch is the branch extracted for the token's issuer, if any.
	Branch string `yaml:"branch,omitempty" json:"branch,omitempty"`

	Results []PolicyResult `yaml:"results" json:"results"`

	// Selected is the ID of the winning policy, if exactly one won.
	Selected string `yaml:"selected,omitempty" json:"selected,omitempty"`

	// Reason is set when no single policy won.
	Reason Reason `yaml:"reason,omitempty" json:"reason,omitempty"`
}

// PolicyResult captures the outcome for a single policy.
type PolicyResult struct {
	PolicyID    string `yaml:"policy_id" json:"policy_id"`
	Name        string `yaml:"name,omitempty" json:"name,omitempty"`
	Subject     string `yaml:"subject" json:"subject"`
	Matched     bool   `yaml:"matched" json:"matched"`
	Specificity int    `yaml:"specificity" json:"specificity"`

	// Reason explains the first failing constraint.
	Reason string `yaml:"reason,omitempty" json:"reason,omitempty"`
}
