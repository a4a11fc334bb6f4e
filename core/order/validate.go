package order

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/kilianp07/courierd/core/model"
)

// CreateInput is the payload accepted by Manager.Create. Totals are computed
// upstream and only range-checked here.
type CreateInput struct {
	// CustomerID is only honoured for admins creating on behalf of a customer.
	CustomerID      string           `json:"customer_id,omitempty"`
	CustomerName    string           `json:"customer_name" validate:"required"`
	CustomerPhone   string           `json:"customer_phone" validate:"required"`
	PickupName      string           `json:"pickup_name,omitempty"`
	PickupAddress   string           `json:"pickup_address,omitempty"`
	DeliveryAddress string           `json:"delivery_address" validate:"required"`
	Notes           string           `json:"notes,omitempty"`
	Items           []model.LineItem `json:"items" validate:"required,min=1,dive"`
	Subtotal        float64          `json:"subtotal" validate:"gt=0"`
	DeliveryFee     float64          `json:"delivery_fee" validate:"gte=0"`
	Tax             float64          `json:"tax" validate:"gte=0"`
	Total           float64          `json:"total" validate:"gt=0"`
	Priority        model.Priority   `json:"priority,omitempty" validate:"omitempty,oneof=low normal high urgent"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func (in *CreateInput) normalize() {
	in.CustomerID = strings.TrimSpace(in.CustomerID)
	in.CustomerName = strings.TrimSpace(in.CustomerName)
	in.CustomerPhone = strings.TrimSpace(in.CustomerPhone)
	in.PickupName = strings.TrimSpace(in.PickupName)
	in.PickupAddress = strings.TrimSpace(in.PickupAddress)
	in.DeliveryAddress = strings.TrimSpace(in.DeliveryAddress)
	in.Notes = strings.TrimSpace(in.Notes)
	for i := range in.Items {
		in.Items[i].Name = strings.TrimSpace(in.Items[i].Name)
	}
	if in.Priority == "" {
		in.Priority = model.PriorityNormal
	}
}

// Validate checks every rule and reports all violations at once.
func (in CreateInput) Validate() error {
	err := validate.Struct(in)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validate order: %w", err)
	}
	out := &model.ValidationError{}
	for _, fe := range verrs {
		out.Add(fieldPath(fe.Namespace()), message(fe))
	}
	return out.OrNil()
}

// fieldPath drops the struct name from a validator namespace:
// "CreateInput.items[0].quantity" -> "items[0].quantity".
func fieldPath(ns string) string {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return "must contain at least " + fe.Param() + " entry"
	case "gt":
		return "must be greater than " + fe.Param()
	case "gte":
		return "must be at least " + fe.Param()
	case "oneof":
		return "must be one of: " + fe.Param()
	default:
		return "is invalid"
	}
}
