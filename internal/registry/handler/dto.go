package handler

import (
	"time"

	"civreg/internal/registry/audit"
	"civreg/internal/registry/models"
	"civreg/internal/registry/scoring"
	id "civreg/pkg/domain"
)

type attributeInput struct {
	Key       string     `json:"key"`
	Value     string     `json:"value"`
	Certifier string     `json:"certifier"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

type authorInput struct {
	Type string `json:"type"`
	Name string `json:"name"`
}

func (a authorInput) toModel() models.Author {
	return models.Author{Type: models.AuthorType(a.Type), Name: a.Name}
}

type contractInput struct {
	Code      string         `json:"code"`
	Mandatory map[string]int `json:"mandatory,omitempty"`
	Writable  []string       `json:"writable,omitempty"`
}

func (c *contractInput) toModel() *models.ServiceContract {
	if c == nil {
		return nil
	}
	contract := &models.ServiceContract{Code: c.Code}
	if len(c.Mandatory) > 0 {
		contract.Mandatory = make(map[models.AttributeKey]int, len(c.Mandatory))
		for key, level := range c.Mandatory {
			contract.Mandatory[models.AttributeKey(key)] = level
		}
	}
	for _, key := range c.Writable {
		contract.Writable = append(contract.Writable, models.AttributeKey(key))
	}
	return contract
}

// ChangeRequest is the body of create, update, and import calls.
type ChangeRequest struct {
	CustomerID    string           `json:"customer_id"`
	ConnectionID  string           `json:"connection_id,omitempty"`
	Attributes    []attributeInput `json:"attributes"`
	Author        authorInput      `json:"author"`
	Contract      *contractInput   `json:"contract,omitempty"`
	LastUpdatedAt *time.Time       `json:"last_updated_at,omitempty"`
}

func (r ChangeRequest) toModel() models.ChangeRequest {
	req := models.ChangeRequest{
		CustomerID:    id.CustomerID(r.CustomerID),
		ConnectionID:  id.ConnectionID(r.ConnectionID),
		Author:        r.Author.toModel(),
		Contract:      r.Contract.toModel(),
		LastUpdatedAt: r.LastUpdatedAt,
	}
	for _, attr := range r.Attributes {
		req.Attributes = append(req.Attributes, models.IncomingAttribute{
			Key:       models.AttributeKey(attr.Key),
			Value:     attr.Value,
			Certifier: attr.Certifier,
			ExpiresAt: attr.ExpiresAt,
		})
	}
	return req
}

// MergeRequest is the body of merge calls.
type MergeRequest struct {
	MasterCustomerID    string           `json:"master_customer_id"`
	SecondaryCustomerID string           `json:"secondary_customer_id"`
	RuleCode            string           `json:"rule_code,omitempty"`
	Attributes          []attributeInput `json:"attributes,omitempty"`
	Author              authorInput      `json:"author"`
}

// ScoreRequest is the body of score queries.
type ScoreRequest struct {
	Contract *contractInput `json:"contract,omitempty"`
	Query    []struct {
		Key   string `json:"key"`
		Value string `json:"value"`
	} `json:"query,omitempty"`
}

func (r ScoreRequest) queryAttributes() []scoring.QueryAttribute {
	out := make([]scoring.QueryAttribute, 0, len(r.Query))
	for _, q := range r.Query {
		out = append(out, scoring.QueryAttribute{Key: models.AttributeKey(q.Key), Value: q.Value})
	}
	return out
}

// ExclusionRequest is the body of duplicate-exclusion calls.
type ExclusionRequest struct {
	FirstCustomerID  string      `json:"first_customer_id"`
	SecondCustomerID string      `json:"second_customer_id"`
	Author           authorInput `json:"author"`
}

type attributeOutput struct {
	Key         string     `json:"key"`
	Value       string     `json:"value"`
	Certifier   string     `json:"certifier"`
	Level       int        `json:"level"`
	CertifiedAt time.Time  `json:"certified_at"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

type identityOutput struct {
	CustomerID   string            `json:"customer_id"`
	ConnectionID string            `json:"connection_id,omitempty"`
	Merged       bool              `json:"merged"`
	Deleted      bool              `json:"deleted"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
	Attributes   []attributeOutput `json:"attributes"`
}

func toIdentityOutput(identity *models.Identity) identityOutput {
	out := identityOutput{
		CustomerID:   string(identity.CustomerID),
		ConnectionID: string(identity.ConnectionID),
		Merged:       identity.Merged,
		Deleted:      identity.Deleted,
		CreatedAt:    identity.CreatedAt,
		UpdatedAt:    identity.UpdatedAt,
		Attributes:   make([]attributeOutput, 0, len(identity.Attributes)),
	}
	for _, attr := range identity.SortedAttributes() {
		out.Attributes = append(out.Attributes, attributeOutput{
			Key:         string(attr.Key),
			Value:       attr.Value,
			Certifier:   attr.Certifier,
			Level:       attr.Level,
			CertifiedAt: attr.CertifiedAt,
			ExpiresAt:   attr.ExpiresAt,
		})
	}
	return out
}

type statusOutput struct {
	Key          string `json:"key"`
	Outcome      string `json:"outcome"`
	Reason       string `json:"reason,omitempty"`
	OldValue     string `json:"old_value,omitempty"`
	NewValue     string `json:"new_value,omitempty"`
	OldCertifier string `json:"old_certifier,omitempty"`
	NewCertifier string `json:"new_certifier,omitempty"`
}

type mutationOutput struct {
	Result   string         `json:"result"`
	Identity identityOutput `json:"identity"`
	Report   []statusOutput `json:"report"`
}

func toMutationOutput(result *models.MutationResult) mutationOutput {
	out := mutationOutput{
		Result:   string(result.Report.Result()),
		Identity: toIdentityOutput(result.Identity),
		Report:   make([]statusOutput, 0, len(result.Report)),
	}
	for _, status := range result.Report {
		out.Report = append(out.Report, statusOutput{
			Key:          string(status.Key),
			Outcome:      string(status.Outcome),
			Reason:       string(status.Reason),
			OldValue:     status.OldValue,
			NewValue:     status.NewValue,
			OldCertifier: status.OldCertifier,
			NewCertifier: status.NewCertifier,
		})
	}
	return out
}

type scoresOutput struct {
	Coverage float64 `json:"coverage"`
	Quality  float64 `json:"quality"`
	Matching float64 `json:"matching"`
}

func toScoresOutput(scores scoring.Scores) scoresOutput {
	return scoresOutput{Coverage: scores.Coverage, Quality: scores.Quality, Matching: scores.Matching}
}

type lockOutput struct {
	ExpiresAt  time.Time `json:"expires_at"`
	AuthorType string    `json:"author_type"`
	AuthorName string    `json:"author_name"`
}

type suspicionOutput struct {
	CustomerID string      `json:"customer_id"`
	RuleCode   string      `json:"rule_code"`
	CreatedAt  time.Time   `json:"created_at"`
	Lock       *lockOutput `json:"lock,omitempty"`
}

func toSuspicionOutput(row *models.SuspiciousIdentity) suspicionOutput {
	out := suspicionOutput{
		CustomerID: string(row.CustomerID),
		RuleCode:   row.RuleCode,
		CreatedAt:  row.CreatedAt,
	}
	if row.Lock != nil {
		out.Lock = toLockOutput(row.Lock)
	}
	return out
}

type auditEventOutput struct {
	Category         string    `json:"category"`
	Action           string    `json:"action"`
	Timestamp        time.Time `json:"timestamp"`
	CustomerID       string    `json:"customer_id"`
	MasterCustomerID string    `json:"master_customer_id,omitempty"`
	ChildCustomerID  string    `json:"child_customer_id,omitempty"`
	RuleCode         string    `json:"rule_code,omitempty"`
	AuthorType       string    `json:"author_type,omitempty"`
	AuthorName       string    `json:"author_name,omitempty"`
	RequestID        string    `json:"request_id,omitempty"`
}

func toAuditEventOutput(event audit.Event) auditEventOutput {
	return auditEventOutput{
		Category:         string(event.Category),
		Action:           event.Action,
		Timestamp:        event.Timestamp,
		CustomerID:       string(event.CustomerID),
		MasterCustomerID: string(event.MasterCustomerID),
		ChildCustomerID:  string(event.ChildCustomerID),
		RuleCode:         event.RuleCode,
		AuthorType:       event.AuthorType,
		AuthorName:       event.AuthorName,
		RequestID:        event.RequestID,
	}
}

func toLockOutput(lock *models.SuspicionLock) *lockOutput {
	return &lockOutput{
		ExpiresAt:  lock.ExpiresAt,
		AuthorType: string(lock.Author.Type),
		AuthorName: lock.Author.Name,
	}
}
