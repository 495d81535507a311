package arbitration

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"civreg/internal/registry/certification"
	"civreg/internal/registry/models"
)

const pivotThreshold = 400

type EngineSuite struct {
	suite.Suite
	engine *Engine
	now    time.Time
}

func TestEngineSuite(t *testing.T) {
	suite.Run(t, new(EngineSuite))
}

func (s *EngineSuite) SetupTest() {
	ctx := context.Background()
	source := certification.NewStaticSource(certification.DefaultSpecs()).
		GrantAll("high", 500).
		GrantAll("mid", 200).
		GrantAll("low", 100)

	registry := certification.NewRegistry(source)
	s.Require().NoError(registry.Refresh(ctx))
	catalog := certification.NewCatalog(source)
	s.Require().NoError(catalog.Refresh(ctx))

	s.engine = New(registry, catalog, pivotThreshold)
	s.now = time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
}

func (s *EngineSuite) existing(key models.AttributeKey, value, certifier string, level int) *models.AttributeValue {
	return &models.AttributeValue{
		Key:         key,
		Value:       value,
		Certifier:   certifier,
		Level:       level,
		CertifiedAt: s.now.Add(-24 * time.Hour),
	}
}

func (s *EngineSuite) TestUnknownCertifierRejected() {
	decision := s.engine.Arbitrate(nil, models.IncomingAttribute{
		Key: models.KeyGivenName, Value: "Alice", Certifier: "nobody",
	}, s.now)

	s.Equal(models.OutcomeRejected, decision.Status.Outcome)
	s.Equal(models.ReasonNotCertified, decision.Status.Reason)
	s.Nil(decision.Value)
}

func (s *EngineSuite) TestCreate() {
	s.Run("blank value rejected on create", func() {
		decision := s.engine.Arbitrate(nil, models.IncomingAttribute{
			Key: models.KeyGivenName, Value: "  ", Certifier: "mid",
		}, s.now)
		s.Equal(models.OutcomeRejected, decision.Status.Outcome)
		s.Equal(models.ReasonBlankValue, decision.Status.Reason)
	})

	s.Run("non-blank value created with resolved level", func() {
		decision := s.engine.Arbitrate(nil, models.IncomingAttribute{
			Key: models.KeyGivenName, Value: "Alice", Certifier: "mid",
		}, s.now)
		s.Equal(models.OutcomeCreated, decision.Status.Outcome)
		s.Require().NotNil(decision.Value)
		s.Equal(200, decision.Value.Level)
		s.Equal(s.now, decision.Value.CertifiedAt)
	})
}

// Scenario: value stored at level 200, re-asserted at level 100. The lower
// certification never wins; stored value and certifier stay untouched.
func (s *EngineSuite) TestLowerCertificationRejected() {
	existing := s.existing(models.KeyGivenName, "Alice", "mid", 200)

	decision := s.engine.Arbitrate(existing, models.IncomingAttribute{
		Key: models.KeyGivenName, Value: "Alice", Certifier: "low",
	}, s.now)

	s.Equal(models.OutcomeRejected, decision.Status.Outcome)
	s.Equal(models.ReasonLowerCertification, decision.Status.Reason)
	s.Nil(decision.Value)
	s.False(decision.Remove)
	s.Equal("Alice", decision.Status.OldValue)
	s.Equal("mid", decision.Status.OldCertifier)
}

// Arbitration monotonicity: for every level strictly below the existing one
// the stored value never changes, whatever the incoming text.
func (s *EngineSuite) TestMonotonicityAcrossLevels() {
	existing := s.existing(models.KeyFamilyName, "Durand", "mid", 200)
	for _, certifier := range []string{"low"} {
		for _, value := range []string{"Durand", "Other", ""} {
			decision := s.engine.Arbitrate(existing, models.IncomingAttribute{
				Key: models.KeyFamilyName, Value: value, Certifier: certifier,
			}, s.now)
			s.Equal(models.OutcomeRejected, decision.Status.Outcome, "value %q", value)
			s.Nil(decision.Value)
			s.False(decision.Remove)
		}
	}
}

func (s *EngineSuite) TestHigherCertificationAlwaysReplaces() {
	existing := s.existing(models.KeyGivenName, "Alice", "mid", 200)

	s.Run("different value", func() {
		decision := s.engine.Arbitrate(existing, models.IncomingAttribute{
			Key: models.KeyGivenName, Value: "Alicia", Certifier: "high",
		}, s.now)
		s.Equal(models.OutcomeUpdated, decision.Status.Outcome)
		s.Equal(500, decision.Value.Level)
	})

	s.Run("identical value still refreshes certification metadata", func() {
		decision := s.engine.Arbitrate(existing, models.IncomingAttribute{
			Key: models.KeyGivenName, Value: "Alice", Certifier: "high",
		}, s.now)
		s.Equal(models.OutcomeUpdated, decision.Status.Outcome)
		s.Require().NotNil(decision.Value)
		s.Equal("high", decision.Value.Certifier)
		s.Equal(s.now, decision.Value.CertifiedAt)
	})
}

func (s *EngineSuite) TestEqualLevel() {
	s.Run("different value updates", func() {
		existing := s.existing(models.KeyGivenName, "Alice", "mid", 200)
		decision := s.engine.Arbitrate(existing, models.IncomingAttribute{
			Key: models.KeyGivenName, Value: "Alicia", Certifier: "mid",
		}, s.now)
		s.Equal(models.OutcomeUpdated, decision.Status.Outcome)
	})

	s.Run("identical value is a no-change", func() {
		existing := s.existing(models.KeyGivenName, "Alice", "mid", 200)
		decision := s.engine.Arbitrate(existing, models.IncomingAttribute{
			Key: models.KeyGivenName, Value: "Alice", Certifier: "mid",
		}, s.now)
		s.Equal(models.OutcomeNoChange, decision.Status.Outcome)
		s.Nil(decision.Value)
	})

	s.Run("identical value with longer-lived certificate extends expiry only", func() {
		existing := s.existing(models.KeyGivenName, "Alice", "mid", 200)
		oldExp := s.now.Add(24 * time.Hour)
		existing.ExpiresAt = &oldExp

		newExp := s.now.Add(48 * time.Hour)
		decision := s.engine.Arbitrate(existing, models.IncomingAttribute{
			Key: models.KeyGivenName, Value: "Alice", Certifier: "mid", ExpiresAt: &newExp,
		}, s.now)

		s.Equal(models.OutcomeExtended, decision.Status.Outcome)
		s.Require().NotNil(decision.Value)
		s.Equal(newExp, *decision.Value.ExpiresAt)
		// Certification timestamp is untouched in the extended case.
		s.Equal(existing.CertifiedAt, decision.Value.CertifiedAt)
	})

	s.Run("shorter-lived certificate does not extend", func() {
		existing := s.existing(models.KeyGivenName, "Alice", "mid", 200)
		oldExp := s.now.Add(48 * time.Hour)
		existing.ExpiresAt = &oldExp

		newExp := s.now.Add(24 * time.Hour)
		decision := s.engine.Arbitrate(existing, models.IncomingAttribute{
			Key: models.KeyGivenName, Value: "Alice", Certifier: "mid", ExpiresAt: &newExp,
		}, s.now)
		s.Equal(models.OutcomeNoChange, decision.Status.Outcome)
	})

	s.Run("unbounded existing certificate never extends", func() {
		existing := s.existing(models.KeyGivenName, "Alice", "mid", 200)
		newExp := s.now.Add(24 * time.Hour)
		decision := s.engine.Arbitrate(existing, models.IncomingAttribute{
			Key: models.KeyGivenName, Value: "Alice", Certifier: "mid", ExpiresAt: &newExp,
		}, s.now)
		s.Equal(models.OutcomeNoChange, decision.Status.Outcome)
	})
}

// Applying the same (key, value, certifier) twice yields NO_CHANGE on the
// second pass.
func (s *EngineSuite) TestIdempotence() {
	identity := models.NewIdentity("C-1", s.now)
	attrs := []models.IncomingAttribute{
		{Key: models.KeyGivenName, Value: "Alice", Certifier: "mid"},
	}

	first := s.engine.Apply(identity, attrs, s.now)
	s.Equal(models.OutcomeCreated, first[0].Outcome)

	second := s.engine.Apply(identity, attrs, s.now.Add(time.Minute))
	s.Equal(models.OutcomeNoChange, second[0].Outcome)
	s.Equal("Alice", identity.Attribute(models.KeyGivenName).Value)
}

func (s *EngineSuite) TestDeletion() {
	s.Run("clearable attribute removed", func() {
		identity := models.NewIdentity("C-1", s.now)
		identity.SetAttribute(s.existing("email", "a@example.org", "mid", 200))

		report := s.engine.Apply(identity, []models.IncomingAttribute{
			{Key: "email", Value: "", Certifier: "mid"},
		}, s.now)

		s.Equal(models.OutcomeUpdated, report[0].Outcome)
		s.Nil(identity.Attribute("email"))
	})

	s.Run("non-clearable attribute rejected", func() {
		existing := s.existing(models.KeyGivenName, "Alice", "mid", 200)
		decision := s.engine.Arbitrate(existing, models.IncomingAttribute{
			Key: models.KeyGivenName, Value: "", Certifier: "mid",
		}, s.now)
		s.Equal(models.OutcomeRejected, decision.Status.Outcome)
		s.Equal(models.ReasonDeletionNotAllowed, decision.Status.Reason)
	})

	s.Run("deletion with lower certification rejected", func() {
		existing := s.existing("email", "a@example.org", "mid", 200)
		decision := s.engine.Arbitrate(existing, models.IncomingAttribute{
			Key: "email", Value: "", Certifier: "low",
		}, s.now)
		s.Equal(models.ReasonLowerCertification, decision.Status.Reason)
	})
}

func (s *EngineSuite) TestApplyBatchReport() {
	identity := models.NewIdentity("C-1", s.now)
	identity.SetAttribute(s.existing(models.KeyFamilyName, "Durand", "high", 500))

	report := s.engine.Apply(identity, []models.IncomingAttribute{
		{Key: models.KeyGivenName, Value: "Alice", Certifier: "mid"},
		{Key: models.KeyFamilyName, Value: "Other", Certifier: "low"},
	}, s.now)

	s.Equal(models.ResultIncompleteSuccess, report.Result())
	s.Equal(models.OutcomeCreated, report[0].Outcome)
	s.Equal(models.OutcomeRejected, report[1].Outcome)
	// The rejected attribute is fully unchanged.
	s.Equal("Durand", identity.Attribute(models.KeyFamilyName).Value)
	s.Equal(500, identity.Attribute(models.KeyFamilyName).Level)
}

func TestPivotDeletionAboveThresholdAlwaysRejected(t *testing.T) {
	ctx := context.Background()
	specs := certification.DefaultSpecs()
	// Even a catalog that marks a pivot key clearable cannot clear it at or
	// above the threshold.
	for i := range specs {
		if specs[i].Key == models.KeyBirthPlaceCode {
			specs[i].Clearable = true
		}
	}
	source := certification.NewStaticSource(specs).GrantAll("high", 500)
	registry := certification.NewRegistry(source)
	require.NoError(t, registry.Refresh(ctx))
	catalog := certification.NewCatalog(source)
	require.NoError(t, catalog.Refresh(ctx))

	engine := New(registry, catalog, pivotThreshold)
	now := time.Now()
	existing := &models.AttributeValue{Key: models.KeyBirthPlaceCode, Value: "75056", Certifier: "high", Level: 500, CertifiedAt: now}

	decision := engine.Arbitrate(existing, models.IncomingAttribute{
		Key: models.KeyBirthPlaceCode, Value: "", Certifier: "high",
	}, now)
	require.Equal(t, models.OutcomeRejected, decision.Status.Outcome)
	require.Equal(t, models.ReasonDeletionNotAllowed, decision.Status.Reason)

	// Below the threshold the same clearable pivot key may be cleared.
	existing.Level = 300
	source.GrantAll("mid", 300)
	require.NoError(t, registry.Refresh(ctx))
	decision = engine.Arbitrate(existing, models.IncomingAttribute{
		Key: models.KeyBirthPlaceCode, Value: "", Certifier: "mid",
	}, now)
	require.True(t, decision.Remove)
}
