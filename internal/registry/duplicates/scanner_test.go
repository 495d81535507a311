package duplicates_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"civreg/internal/registry/duplicates"
	"civreg/internal/registry/duplicates/mocks"
	"civreg/internal/registry/models"
	id "civreg/pkg/domain"
)

type fakeLister struct {
	identities []*models.Identity
	calls      int
}

func (f *fakeLister) ListActive(_ context.Context, offset, limit int) ([]*models.Identity, error) {
	f.calls++
	if offset >= len(f.identities) {
		return nil, nil
	}
	end := min(offset+limit, len(f.identities))
	return f.identities[offset:end], nil
}

type fakeRecorder struct {
	recorded map[id.CustomerID]string
}

func (f *fakeRecorder) Record(_ context.Context, cuid id.CustomerID, ruleCode string) error {
	if f.recorded == nil {
		f.recorded = make(map[id.CustomerID]string)
	}
	f.recorded[cuid] = ruleCode
	return nil
}

func scanRules() *duplicates.RuleCache {
	cache := duplicates.NewRuleCache(duplicates.StaticRuleSource{
		{
			Code: "S-NAME", Active: true, Priority: 2, Tier: models.TierSuspicion,
			CheckedKeys: []models.AttributeKey{models.KeyFamilyName}, MinFilled: 1,
			MatchTypes: map[models.AttributeKey]models.MatchType{models.KeyFamilyName: models.MatchFuzzy},
		},
		{
			Code: "S-BIRTH", Active: true, Priority: 1, Tier: models.TierSuspicion,
			CheckedKeys: []models.AttributeKey{models.KeyBirthDate}, MinFilled: 1,
		},
	})
	if err := cache.Refresh(context.Background()); err != nil {
		panic(err)
	}
	return cache
}

func identityWith(cuid id.CustomerID, family string) *models.Identity {
	identity := models.NewIdentity(cuid, time.Now())
	identity.SetAttribute(&models.AttributeValue{Key: models.KeyFamilyName, Value: family, Certifier: "X", Level: 200})
	return identity
}

func TestScannerFlagsSuspects(t *testing.T) {
	ctrl := gomock.NewController(t)
	search := mocks.NewMockSearchIndex(ctrl)
	exclusions := mocks.NewMockExclusionChecker(ctrl)
	evaluator := duplicates.NewEvaluator(search, exclusions)

	lister := &fakeLister{identities: []*models.Identity{
		identityWith("C-1", "Durand"),
		identityWith("C-2", "Martin"),
		identityWith("C-3", "Weber"),
	}}
	recorder := &fakeRecorder{}

	// Only C-2 matches anyone.
	search.EXPECT().
		FindCandidates(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, query duplicates.SearchQuery) ([]models.Candidate, error) {
			if query.ExcludeCustomerID == "C-2" {
				return []models.Candidate{{CustomerID: "C-7", Score: 0.8}}, nil
			}
			return nil, nil
		}).
		AnyTimes()
	exclusions.EXPECT().
		IsExcluded(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(false, nil).
		AnyTimes()

	scanner, err := duplicates.NewScanner(lister, evaluator, scanRules(), recorder, 2, nil)
	require.NoError(t, err)

	stats, err := scanner.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, stats.Scanned)
	assert.Equal(t, 1, stats.Flagged)
	assert.Equal(t, 2, stats.Batches)
	assert.Equal(t, "S-NAME", recorder.recorded["C-2"])
}

func TestScannerHonorsCancellationBetweenBatches(t *testing.T) {
	ctrl := gomock.NewController(t)
	search := mocks.NewMockSearchIndex(ctrl)
	exclusions := mocks.NewMockExclusionChecker(ctrl)
	evaluator := duplicates.NewEvaluator(search, exclusions)

	lister := &fakeLister{identities: []*models.Identity{
		identityWith("C-1", "Durand"),
		identityWith("C-2", "Martin"),
	}}

	search.EXPECT().FindCandidates(gomock.Any(), gomock.Any()).Return(nil, nil).AnyTimes()

	scanner, err := duplicates.NewScanner(lister, evaluator, scanRules(), &fakeRecorder{}, 1, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	stats, err := scanner.Run(ctx)
	require.Error(t, err)
	assert.Equal(t, 0, stats.Scanned)
}

func TestScannerRejectsNonPositiveBatchSize(t *testing.T) {
	_, err := duplicates.NewScanner(&fakeLister{}, nil, scanRules(), &fakeRecorder{}, 0, nil)
	require.Error(t, err)
}
