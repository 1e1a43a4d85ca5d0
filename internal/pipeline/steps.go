package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/prudhivi99/Distributed-Systems/orderqueue/internal/config"
	"github.com/prudhivi99/Distributed-Systems/orderqueue/internal/models"
)

const (
	StepInventoryValidation  = "inventory-validation"
	StepShippingCost         = "shipping-cost"
	StepInvoiceGeneration    = "invoice-generation"
	StepCustomerConfirmation = "customer-confirmation"
)

var (
	ErrUnknownProduct    = errors.New("product not stocked")
	ErrInsufficientStock = errors.New("insufficient stock")
)

// InventoryChecker looks up stock for a product. db.InventoryRepository and
// its cached decorator satisfy it.
type InventoryChecker interface {
	GetByName(ctx context.Context, name string) (*models.Product, error)
}

// DefaultStepNames are the steps run, in order, when none are configured.
var DefaultStepNames = []string{
	StepInventoryValidation,
	StepShippingCost,
	StepInvoiceGeneration,
	StepCustomerConfirmation,
}

// DefaultSteps returns the four standard steps, each only waiting d.
func DefaultSteps(d time.Duration) []Step {
	steps := make([]Step, 0, len(DefaultStepNames))
	for _, name := range DefaultStepNames {
		steps = append(steps, Step{Name: name, Duration: d})
	}
	return steps
}

// StepsFromConfig returns the configured steps, or the default steps with
// the configured step duration.
func StepsFromConfig(cfg config.ConsumerConfig) []config.StepConfig {
	if len(cfg.Steps) > 0 {
		return cfg.Steps
	}
	steps := make([]config.StepConfig, 0, len(DefaultStepNames))
	for _, name := range DefaultStepNames {
		steps = append(steps, config.StepConfig{Name: name, Duration: cfg.StepDuration})
	}
	return steps
}

// Builder maps configured step names onto step functions.
type Builder struct {
	inventory    InventoryChecker
	shippingRate decimal.Decimal
	logger       *zap.Logger
}

func NewBuilder(shippingRate float64, inventory InventoryChecker, logger *zap.Logger) *Builder {
	return &Builder{
		inventory:    inventory,
		shippingRate: decimal.NewFromFloat(shippingRate),
		logger:       logger,
	}
}

// Build turns step configs into steps. Names without a known function only
// wait their duration.
func (b *Builder) Build(cfgs []config.StepConfig) []Step {
	steps := make([]Step, 0, len(cfgs))
	for _, c := range cfgs {
		steps = append(steps, Step{Name: c.Name, Duration: c.Duration, Run: b.stepFunc(c.Name)})
	}
	return steps
}

func (b *Builder) stepFunc(name string) StepFunc {
	switch name {
	case StepInventoryValidation:
		if b.inventory == nil {
			return nil
		}
		return InventoryStep(b.inventory)
	case StepShippingCost:
		return ShippingStep(b.shippingRate, b.logger)
	case StepInvoiceGeneration:
		return InvoiceStep(b.logger)
	case StepCustomerConfirmation:
		return ConfirmationStep(b.logger)
	default:
		return nil
	}
}

// InventoryStep fails orders for products that are not stocked or whose
// stock is below the ordered quantity.
func InventoryStep(checker InventoryChecker) StepFunc {
	return func(ctx context.Context, order models.Order) error {
		p, err := checker.GetByName(ctx, order.Product)
		if err != nil {
			return fmt.Errorf("inventory lookup: %w", err)
		}
		if p == nil {
			return fmt.Errorf("%w: %s", ErrUnknownProduct, order.Product)
		}
		if !p.InStock(order.Quantity) {
			return fmt.Errorf("%w: %s has %d, order needs %d", ErrInsufficientStock, order.Product, p.Quantity, order.Quantity)
		}
		return nil
	}
}

// ShippingCost is rate per unit.
func ShippingCost(rate decimal.Decimal, order models.Order) decimal.Decimal {
	return rate.Mul(decimal.NewFromInt(int64(order.Quantity))).Round(2)
}

func ShippingStep(rate decimal.Decimal, logger *zap.Logger) StepFunc {
	return func(_ context.Context, order models.Order) error {
		logger.Debug("calculated shipping cost",
			zap.Int("order_id", order.OrderID),
			zap.String("shipping", ShippingCost(rate, order).StringFixed(2)),
		)
		return nil
	}
}

func InvoiceStep(logger *zap.Logger) StepFunc {
	return func(_ context.Context, order models.Order) error {
		logger.Debug("generated invoice",
			zap.Int("order_id", order.OrderID),
			zap.String("total", order.TotalString()),
		)
		return nil
	}
}

func ConfirmationStep(logger *zap.Logger) StepFunc {
	return func(_ context.Context, order models.Order) error {
		logger.Debug("sent customer confirmation", zap.Int("order_id", order.OrderID))
		return nil
	}
}
