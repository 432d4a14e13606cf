package artifact

// Convenience queries used by the attractor evaluator and by agents.
// All are derived from the primary query surface and share its
// complexity guarantees.

// HasErrors reports whether any active error artifact exists.
func (s *Store) HasErrors() bool {
	return s.Exists(TypeError, "")
}

// ActiveErrors returns all active error artifacts, newest first.
func (s *Store) ActiveErrors() []*Artifact {
	return s.GetByType(TypeError, StatusActive, 0)
}

// HasUnrecoverableError reports whether an active error artifact is
// marked recoverable=false.
func (s *Store) HasUnrecoverableError() bool {
	for _, a := range s.ActiveErrors() {
		if v, ok := a.Metadata[MetaRecoverable].(bool); ok && !v {
			return true
		}
	}
	return false
}

// HasPreview reports whether an active preview artifact with a url exists.
func (s *Store) HasPreview() bool {
	return s.PreviewURL() != ""
}

// PreviewURL returns the url of the latest active preview artifact,
// or "" when none exists.
func (s *Store) PreviewURL() string {
	latest := s.GetLatest(TypePreview, "")
	if latest == nil {
		return ""
	}
	return latest.MetaString(MetaURL)
}

// BuildSucceeded reports whether the latest active build artifact
// carries metadata.success=true.
func (s *Store) BuildSucceeded() bool {
	latest := s.GetLatest(TypeBuild, "")
	return latest != nil && latest.MetaBool(MetaSuccess)
}

// TestsPassed reports whether the latest active build artifact carries
// metadata.tests_passed=true.
func (s *Store) TestsPassed() bool {
	latest := s.GetLatest(TypeBuild, "")
	return latest != nil && latest.MetaBool(MetaTestsPassed)
}

// FileArtifacts returns all active file artifacts, newest first.
func (s *Store) FileArtifacts() []*Artifact {
	return s.GetByType(TypeFile, StatusActive, 0)
}

// PendingPlan returns the latest active plan artifact still awaiting
// review, or nil.
func (s *Store) PendingPlan() *Artifact {
	latest := s.GetLatest(TypePlan, "")
	if latest == nil {
		return nil
	}
	if latest.MetaString(MetaPlanStatus) == PlanPendingReview {
		return latest
	}
	return nil
}

// CountByType returns the number of cached artifacts per type.
func (s *Store) CountByType() map[Type]int {
	counts := make(map[Type]int)
	for _, a := range s.All() {
		counts[a.Type]++
	}
	return counts
}
