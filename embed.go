package ekipick

import _ "embed"

// DefaultScript is the narration played by the development narrator when no script or model is
// configured. It walks through a first recommendation and a short follow-up answer.
//
//go:embed scripts/default.yaml
var DefaultScript []byte
