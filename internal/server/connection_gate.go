package server

const (
	defaultMaxGlobalConnections = 10000
	defaultMaxConnectionsPerIP  = 20
	defaultConnectionsPerSecond = 10.0
	defaultConnectionBurst      = 10
)

// ConnectionGate combines the global, per-IP, and rate limiters applied to
// websocket upgrades.
type ConnectionGate struct {
	global *GlobalConnectionLimiter
	perIP  *IPConnectionLimiter
	rate   *ConnectionRateLimiter
}

func NewConnectionGate(maxGlobal int64, maxPerIP int, perSecond float64, burst int) *ConnectionGate {
	return &ConnectionGate{
		global: NewGlobalConnectionLimiter(maxGlobal),
		perIP:  NewIPConnectionLimiter(maxPerIP),
		rate:   NewConnectionRateLimiter(perSecond, burst),
	}
}

// Acquire claims a slot for the given IP. The caller must Release with the
// same IP when the connection closes.
func (g *ConnectionGate) Acquire(ip string) (ok bool, reason string) {
	if !g.rate.Allow(ip) {
		return false, "connection rate limit exceeded"
	}
	if !g.global.Acquire() {
		return false, "server at connection capacity"
	}
	if !g.perIP.Acquire(ip) {
		g.global.Release()
		return false, "too many connections from this address"
	}
	return true, ""
}

func (g *ConnectionGate) Release(ip string) {
	g.perIP.Release(ip)
	g.global.Release()
}
