package orchestration

// ActorNumber identifies a market participant (GLN or EIC number).
type ActorNumber string

// ActorRole is the market role an actor acts in. The set is closed; the
// energy market defines these roles, not this engine.
type ActorRole string

const (
	RoleEnergySupplier         ActorRole = "EnergySupplier"
	RoleGridAccessProvider     ActorRole = "GridAccessProvider"
	RoleSystemOperator         ActorRole = "SystemOperator"
	RoleDanishEnergyAgency     ActorRole = "DanishEnergyAgency"
	RoleMeteredDataResponsible ActorRole = "MeteredDataResponsible"
)

// Identity is the (number, role) pair under which a request is made or a
// message is addressed. Two identities are equal iff both fields match.
type Identity struct {
	Number ActorNumber
	Role   ActorRole
}

// IdempotencyKey is a caller-supplied token used to deduplicate process
// starts. Two start requests with the same key refer to the same logical
// business transaction.
type IdempotencyKey string
