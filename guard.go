package opsdeck

// GateAction is the gate's ruling for a navigation attempt.
type GateAction int

const (
	// ActionAllow lets the navigation proceed.
	ActionAllow GateAction = iota

	// ActionRedirectEntry sends the operator to the entry route to sign in.
	ActionRedirectEntry

	// ActionRedirectHome bounces an authenticated operator off the
	// pre-login surface.
	ActionRedirectHome

	// ActionRedirectDenied sends the operator to the denied route.
	ActionRedirectDenied
)

// String returns the metrics label for the action.
func (a GateAction) String() string {
	switch a {
	case ActionAllow:
		return "allow"
	case ActionRedirectEntry:
		return "redirect_entry"
	case ActionRedirectHome:
		return "redirect_home"
	case ActionRedirectDenied:
		return "redirect_denied"
	default:
		return "unknown"
	}
}

// Decision is the outcome of guarding one navigation attempt.
type Decision struct {
	Action GateAction

	// Target is the route to go to instead; empty when Action is ActionAllow.
	Target string
}

// Allowed reports whether the navigation may proceed.
func (d Decision) Allowed() bool { return d.Action == ActionAllow }

type reqKind int

const (
	reqNone reqKind = iota
	reqAuthenticated
	reqRole
	reqCapability
)

// Requirement is what a route demands of the session. The zero value
// demands nothing.
type Requirement struct {
	kind       reqKind
	role       Role
	capability Capability
}

// RequireNone marks a route open to everyone.
func RequireNone() Requirement { return Requirement{} }

// RequireAuthenticated marks a route open to any established session.
func RequireAuthenticated() Requirement { return Requirement{kind: reqAuthenticated} }

// RequireRole marks a route open to sessions holding at least the role.
func RequireRole(r Role) Requirement { return Requirement{kind: reqRole, role: r} }

// RequireCapability marks a route open to sessions holding the capability.
func RequireCapability(c Capability) Requirement {
	return Requirement{kind: reqCapability, capability: c}
}

// allows evaluates the requirement against an identity; nil means anonymous.
func (q Requirement) allows(id *Identity) bool {
	switch q.kind {
	case reqNone:
		return true
	case reqAuthenticated:
		return id != nil
	case reqRole:
		return id.SatisfiesRole(q.role)
	case reqCapability:
		return id.HasCapability(q.capability)
	default:
		return false
	}
}

// Route is a guarded navigation target.
type Route struct {
	Name        string
	Requirement Requirement

	// Entry marks the pre-login surface: open to anonymous operators and
	// bounced to home for authenticated ones.
	Entry bool
}

// Names of the non-module routes in the default table.
const (
	RouteLogin         = "login"
	RoutePasswordReset = "password-reset"
	RouteDashboard     = "dashboard"
	RouteProfile       = "profile"
	RouteUnauthorized  = "unauthorized"
	RouteSettings      = "settings"
	RouteScripts       = "scripts"
	RouteSystem        = "system"
)

// DefaultRoutes returns the console's standard route table: the entry
// surface, the authenticated core pages, one route per cataloged module
// named after its capability, the admin settings area, and the reserved
// operator routes.
func DefaultRoutes() []Route {
	routes := []Route{
		{Name: RouteLogin, Entry: true},
		{Name: RoutePasswordReset, Entry: true},
		{Name: RouteDashboard, Requirement: RequireAuthenticated()},
		{Name: RouteProfile, Requirement: RequireAuthenticated()},
		{Name: RouteUnauthorized, Requirement: RequireAuthenticated()},
		{Name: RouteSettings, Requirement: RequireRole(RoleAdmin)},
		{Name: RouteScripts, Requirement: RequireCapability(CapScripts)},
		{Name: RouteSystem, Requirement: RequireCapability(CapSystem)},
	}
	for _, cap := range Catalog() {
		routes = append(routes, Route{Name: string(cap), Requirement: RequireCapability(cap)})
	}
	return routes
}

// Guard rules on navigation to the named route against the current session.
// Unknown routes are closed: anonymous operators go to entry, authenticated
// ones to the denied route.
func (c *Client) Guard(route string) Decision {
	d := c.decide(c.Snapshot(), route)
	c.record(func(r Recorder) { r.GateDecision(route, d.Action.String()) })
	if !d.Allowed() {
		c.logger.Debug("navigation redirected",
			"route", route, "action", d.Action.String(), "target", d.Target)
	}
	return d
}

func (c *Client) decide(snap Snapshot, route string) Decision {
	r, known := c.routes[route]

	if !snap.Authenticated() {
		if known && r.Entry {
			return Decision{Action: ActionAllow}
		}
		return Decision{Action: ActionRedirectEntry, Target: c.config.EntryRoute}
	}
	if known && r.Entry {
		// The pre-login surface is pointless for an established session.
		return Decision{Action: ActionRedirectHome, Target: c.config.HomeRoute}
	}
	if !known || !r.Requirement.allows(snap.Identity) {
		return Decision{Action: ActionRedirectDenied, Target: c.config.DeniedRoute}
	}
	return Decision{Action: ActionAllow}
}
