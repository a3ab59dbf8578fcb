package chat

import (
	"fmt"
	"net"

	"github.com/google/uuid"
)

// connectionID - generates network connection identifier.
func connectionID() string {
	return uuid.NewString()
}

// formatAddress - formats specified network address for logging purposes.
func formatAddress(a net.Addr) string {
	if a == nil {
		return ""
	}
	return fmt.Sprintf("%s %s", a.Network(), a.String())
}
