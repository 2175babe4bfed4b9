package clinic

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/clinicmanager/clinic/internal/platform/apperr"
)

const EventCreated = "clinic.created"

var ErrClinicNotFound = apperr.NotFound("clinic")

type Clinic struct {
	ID                     uuid.UUID       `json:"id"`
	Name                   string          `json:"name"`
	Address                *string         `json:"address,omitempty"`
	Phone                  *string         `json:"phone,omitempty"`
	Email                  *string         `json:"email,omitempty"`
	SettlementBank         *string         `json:"settlement_bank,omitempty"`
	AccountNumber          *string         `json:"account_number,omitempty"`
	PaystackSubaccountCode *string         `json:"paystack_subaccount_code,omitempty"`
	PaystackRaw            json.RawMessage `json:"paystack_raw,omitempty"`
	CreatedAt              time.Time       `json:"created_at"`
}

// HasSettlementAccount reports whether a subaccount can be requested.
func (c *Clinic) HasSettlementAccount() bool {
	return c.SettlementBank != nil && *c.SettlementBank != "" &&
		c.AccountNumber != nil && *c.AccountNumber != ""
}

// Created is the payload of EventCreated.
type Created struct {
	Clinic *Clinic
}
