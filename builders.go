package rbac

// Builders provide a fluent API for assembling Roles and Principals, mostly
// used by configuration loading and tests.

// RoleBuilder builds a Role whose matrix starts all-false over the given
// modules (DefaultModules when none are supplied), so the result always
// passes matrix-completeness validation.
type RoleBuilder struct {
	r *Role
}

func NewRoleBuilder(modules ...Module) *RoleBuilder {
	if len(modules) == 0 {
		modules = DefaultModules
	}
	return &RoleBuilder{r: &Role{Matrix: EmptyMatrix(modules), Status: RoleActive}}
}

func (b *RoleBuilder) ID(id string) *RoleBuilder        { b.r.ID = id; return b }
func (b *RoleBuilder) Name(n string) *RoleBuilder       { b.r.Name = n; return b }
func (b *RoleBuilder) Type(t string) *RoleBuilder       { b.r.Type = t; return b }
func (b *RoleBuilder) Parent(id string) *RoleBuilder    { b.r.ParentID = id; return b }
func (b *RoleBuilder) Status(s RoleStatus) *RoleBuilder { b.r.Status = s; return b }

func (b *RoleBuilder) Special(tokens ...string) *RoleBuilder {
	b.r.Special = append(b.r.Special, tokens...)
	return b
}
func (b *RoleBuilder) Restrict(tags ...string) *RoleBuilder {
	b.r.Restrictions = append(b.r.Restrictions, tags...)
	return b
}

// Grant turns on the given actions for a module.
func (b *RoleBuilder) Grant(module Module, actions ...Action) *RoleBuilder {
	set := b.r.Matrix[module]
	for _, a := range actions {
		switch a {
		case ActionRead:
			set.Read = true
		case ActionWrite:
			set.Write = true
		case ActionDelete:
			set.Delete = true
		case ActionAdmin:
			set.Admin = true
		}
	}
	b.r.Matrix[module] = set
	return b
}

// GrantAll turns on every action for a module.
func (b *RoleBuilder) GrantAll(module Module) *RoleBuilder {
	return b.Grant(module, Actions...)
}

func (b *RoleBuilder) Build() *Role { return b.r }

// PrincipalBuilder builds a Principal.
type PrincipalBuilder struct {
	p *Principal
}

func NewPrincipalBuilder(userID string) *PrincipalBuilder {
	return &PrincipalBuilder{p: &Principal{UserID: userID}}
}

func (b *PrincipalBuilder) Role(roleID string) *PrincipalBuilder {
	b.p.RoleID = roleID
	return b
}

// Override records an explicit per-cell exception.
func (b *PrincipalBuilder) Override(module Module, action Action, value bool) *PrincipalBuilder {
	if b.p.Overrides == nil {
		b.p.Overrides = make(map[Module]map[Action]bool)
	}
	if b.p.Overrides[module] == nil {
		b.p.Overrides[module] = make(map[Action]bool)
	}
	b.p.Overrides[module][action] = value
	return b
}

func (b *PrincipalBuilder) Build() *Principal { return b.p }
