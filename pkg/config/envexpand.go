package config

import "os"

// ExpandEnv expands ${VAR} and $VAR references in raw manifest bytes before
// YAML parsing, so API keys and endpoints never need to be hardcoded in the
// checked-in registry manifest. Unset variables expand to the empty string;
// validation is responsible for catching a required field left empty this way.
func ExpandEnv(data []byte) []byte {
	return []byte(os.ExpandEnv(string(data)))
}
