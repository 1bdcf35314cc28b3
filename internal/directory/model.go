package directory

import "time"

// Party is a marketplace participant able to own wallets: a client firm,
// a provider firm, or a platform operator.
type Party struct {
	ID          string
	Handle      string
	DisplayName string
	Role        string
	CreatedAt   time.Time
}

// Roles a party can register with.
const (
	RoleClient   = "client"
	RoleProvider = "provider"
	RoleOperator = "operator"
)
