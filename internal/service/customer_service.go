package service

import (
	"context"
	"sort"
	"time"

	"github.com/boddenberg/billingiq-api/internal/domain"
	"github.com/boddenberg/billingiq-api/internal/port"
	"github.com/boddenberg/billingiq-api/internal/repository"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var customerTracer = otel.Tracer("service/customer")

// CustomerService manages customers and keeps the relational mirror in step.
type CustomerService struct {
	repo   *repository.CustomerRepository
	mirror port.CustomerMirror
	bg     *Background
	logger *zap.Logger
}

// NewCustomerService creates the service. mirror may be nil.
func NewCustomerService(repo *repository.CustomerRepository, mirror port.CustomerMirror, bg *Background, logger *zap.Logger) *CustomerService {
	return &CustomerService{repo: repo, mirror: mirror, bg: bg, logger: logger}
}

func (s *CustomerService) Create(ctx context.Context, req *domain.CreateCustomerRequest) (*domain.Customer, error) {
	ctx, span := customerTracer.Start(ctx, "CustomerService.Create")
	defer span.End()

	if err := req.Validate(); err != nil {
		return nil, err
	}
	c, err := s.repo.Create(ctx, req.NewCustomer())
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("customer_id", c.ID))
	s.logger.Info("customer created",
		zap.String("customer_id", c.ID),
		zap.String("company_id", c.CompanyID),
	)
	s.changed(c, "created")
	return c, nil
}

func (s *CustomerService) Get(ctx context.Context, id string) (*domain.Customer, error) {
	ctx, span := customerTracer.Start(ctx, "CustomerService.Get")
	defer span.End()
	return s.repo.GetByID(ctx, id)
}

func (s *CustomerService) List(ctx context.Context, companyID string, page domain.PageRequest) (domain.Page[domain.Customer], error) {
	ctx, span := customerTracer.Start(ctx, "CustomerService.List")
	defer span.End()

	if companyID == "" {
		return domain.Page[domain.Customer]{}, &domain.ErrValidation{Field: "company_id", Message: "is required"}
	}
	return s.repo.ListByCompany(ctx, companyID, page)
}

func (s *CustomerService) Search(ctx context.Context, companyID, text string, limit int) ([]domain.Customer, error) {
	ctx, span := customerTracer.Start(ctx, "CustomerService.Search")
	defer span.End()

	if companyID == "" {
		return nil, &domain.ErrValidation{Field: "company_id", Message: "is required"}
	}
	return s.repo.Search(ctx, companyID, text, limit)
}

// ActiveCount returns the number of active customers of the company.
func (s *CustomerService) ActiveCount(ctx context.Context, companyID string) (int, error) {
	ctx, span := customerTracer.Start(ctx, "CustomerService.ActiveCount")
	defer span.End()
	return s.repo.ActiveCount(ctx, companyID)
}

func (s *CustomerService) Update(ctx context.Context, id string, req *domain.UpdateCustomerRequest) (*domain.Customer, error) {
	ctx, span := customerTracer.Start(ctx, "CustomerService.Update")
	defer span.End()

	if err := req.Validate(); err != nil {
		return nil, err
	}
	if req.Empty() {
		return nil, &domain.ErrValidation{Field: "body", Message: "no fields to update"}
	}
	c, err := s.repo.Update(ctx, id, req)
	if err != nil {
		return nil, err
	}
	s.changed(c, "updated")
	return c, nil
}

// Delete soft-deletes the customer.
func (s *CustomerService) Delete(ctx context.Context, id string) error {
	ctx, span := customerTracer.Start(ctx, "CustomerService.Delete")
	defer span.End()

	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info("customer deleted", zap.String("customer_id", id))
	if c, err := s.repo.GetByID(ctx, id); err == nil {
		s.changed(c, "deleted")
	}
	return nil
}

// changed publishes CustomerUpdated and mirrors the record.
func (s *CustomerService) changed(c *domain.Customer, action string) {
	s.bg.Emit(domain.Event{
		Source:     "customer",
		DetailType: domain.EventCustomerUpdated,
		Detail: map[string]any{
			"customer_id": c.ID,
			"company_id":  c.CompanyID,
			"action":      action,
			"status":      c.Status,
			"updated_at":  c.UpdatedAt.Format(time.RFC3339),
		},
		Resources: resource("customer", c.ID),
	})
	if s.mirror == nil {
		return
	}
	snapshot := *c
	s.bg.Go("customer.mirror", func(ctx context.Context) error {
		return s.mirror.UpsertCustomer(ctx, &snapshot)
	})
}

// MirrorParity walks the company's customers in the item store and in the
// relational mirror and reports the records that disagree. A record is stale
// when the mirror holds it with a different status or update time.
func (s *CustomerService) MirrorParity(ctx context.Context, companyID string) (*domain.MirrorReport, error) {
	ctx, span := customerTracer.Start(ctx, "CustomerService.MirrorParity")
	defer span.End()

	if companyID == "" {
		return nil, &domain.ErrValidation{Field: "company_id", Message: "is required"}
	}
	if s.mirror == nil {
		return nil, &domain.ErrConflict{Resource: "mirror", Message: "relational mirror is not configured"}
	}

	stored := map[string]domain.Customer{}
	page := domain.PageRequest{Limit: domain.MaxPageSize}
	for {
		res, err := s.repo.ListByCompany(ctx, companyID, page)
		if err != nil {
			return nil, err
		}
		for _, c := range res.Items {
			stored[c.ID] = c
		}
		if res.NextToken == "" {
			break
		}
		page.NextToken = res.NextToken
	}

	mirrored := map[string]domain.Customer{}
	filter := domain.MirrorFilter{Limit: domain.MaxPageSize}
	for {
		batch, err := s.mirror.ListByCompany(ctx, companyID, filter)
		if err != nil {
			return nil, &domain.ErrExternalService{Service: "postgres", Err: err}
		}
		for _, c := range batch {
			mirrored[c.ID] = c
		}
		if len(batch) < filter.Limit {
			break
		}
		filter.Offset += len(batch)
	}

	report := &domain.MirrorReport{
		CompanyID:       companyID,
		MissingInMirror: []string{},
		Stale:           []string{},
		ExtraInMirror:   []string{},
	}
	for id, c := range stored {
		report.Checked++
		m, ok := mirrored[id]
		if !ok {
			// not listed: either never mirrored or mirrored with another status
			got, err := s.mirror.GetByID(ctx, id)
			if isNotFoundErr(err) {
				report.MissingInMirror = append(report.MissingInMirror, id)
				continue
			}
			if err != nil {
				return nil, &domain.ErrExternalService{Service: "postgres", Err: err}
			}
			m = *got
		}
		if mirrorMatches(&c, &m) {
			report.InSync++
			continue
		}
		report.Stale = append(report.Stale, id)
	}
	for id := range mirrored {
		if _, ok := stored[id]; ok {
			continue
		}
		_, err := s.repo.GetByID(ctx, id)
		switch {
		case err == nil:
			// deleted in the store while the mirror still lists it
			report.Stale = append(report.Stale, id)
		case isNotFoundErr(err):
			report.ExtraInMirror = append(report.ExtraInMirror, id)
		default:
			return nil, err
		}
	}
	sort.Strings(report.MissingInMirror)
	sort.Strings(report.Stale)
	sort.Strings(report.ExtraInMirror)

	span.SetAttributes(attribute.Int("checked", report.Checked), attribute.Bool("consistent", report.Consistent()))
	if !report.Consistent() {
		s.logger.Warn("customer mirror out of sync",
			zap.String("company_id", companyID),
			zap.Int("missing", len(report.MissingInMirror)),
			zap.Int("stale", len(report.Stale)),
			zap.Int("extra", len(report.ExtraInMirror)),
		)
	}
	return report, nil
}

func mirrorMatches(stored, mirrored *domain.Customer) bool {
	return stored.Status == mirrored.Status &&
		stored.UpdatedAt.Truncate(time.Microsecond).Equal(mirrored.UpdatedAt.Truncate(time.Microsecond))
}
