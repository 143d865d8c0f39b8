package plans

// HasFeatureAccess reports whether the named plan grants the given feature.
//
// Unknown plan names fail closed. While an organization is still being set up
// (admin signed up, subscription not yet reconciled) only the admin dashboard
// is reachable regardless of plan — that is a lifecycle override, not a plan
// property.
func HasFeatureAccess(planName, feature string, settingUpOrg bool) bool {
	if settingUpOrg {
		return feature == FeatureAdminDashboard
	}

	p, ok := ByName(planName)
	if !ok {
		return false
	}
	for _, f := range p.Features {
		if f == feature {
			return true
		}
	}
	return false
}
