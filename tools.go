//go:build tools

package chatline

import (
	_ "go.uber.org/mock/mockgen"
)
