// Package browser implements the shell's browser capabilities.
//
// The js/wasm build talks to the page through syscall/js. Every other build
// gets Harness, which keeps the same contracts on an afero filesystem so the
// shell can run and be tested outside a browser.
package browser

import (
	"github.com/remarkablegames/renpy-sdk/internal/offline"
	"github.com/remarkablegames/renpy-sdk/internal/transfer"
)

// Capabilities is everything the shell needs from the page besides
// rendering.
type Capabilities interface {
	transfer.Capabilities
	offline.Registrar
}
