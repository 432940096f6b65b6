package main

// CLIResult is the top-level envelope for every command's output.
type CLIResult struct {
	Command    string `json:"command" yaml:"command"`
	Results    any    `json:"results" yaml:"results"`
	TotalCount *int   `json:"total_count,omitempty" yaml:"total_count,omitempty"`
	Error      string `json:"error,omitempty" yaml:"error,omitempty"`
}

// CLIUnitOf answers "which unit declares this entity".
type CLIUnitOf struct {
	Entity string `json:"entity" yaml:"entity"`
	Unit   string `json:"unit,omitempty" yaml:"unit,omitempty"`
	Found  bool   `json:"found" yaml:"found"`
}
