package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "civreg/pkg/domain"
	dErrors "civreg/pkg/domain-errors"
)

func TestIdentityMergeTransitions(t *testing.T) {
	now := time.Now()

	t.Run("merge consumes attributes and sets master", func(t *testing.T) {
		master := NewIdentity("C-1", now)
		secondary := NewIdentity("C-2", now)
		secondary.SetAttribute(&AttributeValue{Key: KeyGivenName, Value: "Alice", Certifier: "X", Level: 200})

		require.NoError(t, secondary.CanMergeInto(master))
		secondary.ApplyMerge(master.ID, now)

		assert.True(t, secondary.Merged)
		require.NotNil(t, secondary.MasterID)
		assert.Equal(t, master.ID, *secondary.MasterID)
		assert.Empty(t, secondary.Attributes)
	})

	t.Run("self merge rejected", func(t *testing.T) {
		only := NewIdentity("C-3", now)
		err := only.CanMergeInto(only)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvariantViolation))
	})

	t.Run("already merged identity cannot merge again", func(t *testing.T) {
		master := NewIdentity("C-1", now)
		secondary := NewIdentity("C-2", now)
		secondary.ApplyMerge(master.ID, now)

		other := NewIdentity("C-4", now)
		require.Error(t, secondary.CanMergeInto(other))
	})

	t.Run("inactive master rejected", func(t *testing.T) {
		master := NewIdentity("C-1", now)
		master.ApplySoftDelete(now)
		secondary := NewIdentity("C-2", now)
		require.Error(t, secondary.CanMergeInto(master))
	})
}

func TestIdentityCancelMerge(t *testing.T) {
	now := time.Now()
	master := NewIdentity("C-1", now)
	secondary := NewIdentity("C-2", now)
	secondary.ApplyMerge(master.ID, now)

	t.Run("wrong master rejected", func(t *testing.T) {
		err := secondary.CanCancelMerge(id.NewIdentityID())
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvariantViolation))
	})

	t.Run("unmerged identity rejected", func(t *testing.T) {
		require.Error(t, master.CanCancelMerge(secondary.ID))
	})

	t.Run("detaches without restoring attributes", func(t *testing.T) {
		require.NoError(t, secondary.CanCancelMerge(master.ID))
		secondary.ApplyCancelMerge(now)
		assert.False(t, secondary.Merged)
		assert.Nil(t, secondary.MasterID)
		assert.Empty(t, secondary.Attributes)
	})
}

func TestIdentityClone(t *testing.T) {
	now := time.Now()
	orig := NewIdentity("C-1", now)
	exp := now.Add(time.Hour)
	orig.SetAttribute(&AttributeValue{Key: KeyFamilyName, Value: "Durand", Certifier: "X", Level: 300, ExpiresAt: &exp})

	clone := orig.Clone()
	clone.Attributes[KeyFamilyName].Value = "changed"
	newExp := exp.Add(time.Hour)
	clone.Attributes[KeyFamilyName].ExpiresAt = &newExp

	assert.Equal(t, "Durand", orig.Attribute(KeyFamilyName).Value)
	assert.Equal(t, exp, *orig.Attribute(KeyFamilyName).ExpiresAt)
}

func TestChangeRequestValidate(t *testing.T) {
	valid := ChangeRequest{
		CustomerID: id.CustomerID("C-1"),
		Attributes: []IncomingAttribute{{Key: KeyGivenName, Value: "Alice", Certifier: "X"}},
	}
	require.NoError(t, valid.Validate())

	t.Run("missing customer id", func(t *testing.T) {
		r := valid
		r.CustomerID = ""
		require.Error(t, r.Validate())
	})

	t.Run("empty attribute batch", func(t *testing.T) {
		r := valid
		r.Attributes = nil
		require.Error(t, r.Validate())
	})

	t.Run("duplicate keys in one batch", func(t *testing.T) {
		r := valid
		r.Attributes = []IncomingAttribute{
			{Key: KeyGivenName, Value: "Alice", Certifier: "X"},
			{Key: KeyGivenName, Value: "Alicia", Certifier: "Y"},
		}
		err := r.Validate()
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	})

	t.Run("missing certifier", func(t *testing.T) {
		r := valid
		r.Attributes = []IncomingAttribute{{Key: KeyGivenName, Value: "Alice"}}
		require.Error(t, r.Validate())
	})
}

func TestChangeRequestAuthorize(t *testing.T) {
	req := ChangeRequest{
		CustomerID: id.CustomerID("C-1"),
		Attributes: []IncomingAttribute{{Key: KeyBirthDate, Value: "1990-01-01", Certifier: "X"}},
		Contract: &ServiceContract{
			Code:     "partner-a",
			Writable: []AttributeKey{KeyGivenName, KeyFamilyName},
		},
	}
	err := req.Authorize()
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))

	req.Contract.Writable = nil
	require.NoError(t, req.Authorize())
}

func TestReportResult(t *testing.T) {
	report := Report{
		{Key: KeyGivenName, Outcome: OutcomeCreated},
		{Key: KeyFamilyName, Outcome: OutcomeNoChange},
	}
	assert.Equal(t, ResultSuccess, report.Result())
	assert.True(t, report.Changed())

	report = append(report, AttributeStatus{Key: KeyBirthDate, Outcome: OutcomeRejected, Reason: ReasonLowerCertification})
	assert.Equal(t, ResultIncompleteSuccess, report.Result())

	assert.False(t, Report{{Key: KeyGivenName, Outcome: OutcomeNoChange}}.Changed())
}
