package api

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// PaymentCondition values match the backend enum.
type PaymentCondition int

const (
	PaymentCash PaymentCondition = iota + 1
	PaymentCreditCard
	PaymentDebitCard
	PaymentPix
	PaymentPaypal
)

var paymentNames = map[PaymentCondition]string{
	PaymentCash:       "Cash",
	PaymentCreditCard: "CreditCard",
	PaymentDebitCard:  "DebitCard",
	PaymentPix:        "Pix",
	PaymentPaypal:     "Paypal",
}

func (p PaymentCondition) String() string {
	if name, ok := paymentNames[p]; ok {
		return name
	}
	return "PaymentCondition(" + strconv.Itoa(int(p)) + ")"
}

func (p PaymentCondition) Valid() bool {
	_, ok := paymentNames[p]
	return ok
}

// ParsePaymentCondition accepts a name (case-insensitive) or the numeric value.
func ParsePaymentCondition(s string) (PaymentCondition, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		if p := PaymentCondition(n); p.Valid() {
			return p, nil
		}
		return 0, errors.Errorf("unknown payment condition %d", n)
	}
	for p, name := range paymentNames {
		if strings.EqualFold(name, s) {
			return p, nil
		}
	}
	return 0, errors.Errorf("unknown payment condition %q", s)
}

type Brand struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Store is a registered store as the backend returns it.
type Store struct {
	ID                string             `json:"id"`
	Name              string             `json:"name"`
	Address           *string            `json:"address"`
	Email             *string            `json:"email"`
	Website           *string            `json:"website"`
	Latitude          float64            `json:"latitude"`
	Longitude         float64            `json:"longitude"`
	Brands            []Brand            `json:"brands"`
	PaymentConditions []PaymentCondition `json:"paymentConditions"`
}

// StoreRequest is the body of create and update calls. Brands holds brand IDs.
type StoreRequest struct {
	Name              string             `json:"name"`
	Address           *string            `json:"address"`
	Email             *string            `json:"email"`
	Website           *string            `json:"website"`
	Latitude          float64            `json:"latitude"`
	Longitude         float64            `json:"longitude"`
	Brands            []string           `json:"brands"`
	PaymentConditions []PaymentCondition `json:"paymentConditions"`
}

// storeList accepts a bare array or an object wrapping it under "stores".
type storeList []Store

func (l *storeList) UnmarshalJSON(data []byte) error {
	var direct []Store
	if err := json.Unmarshal(data, &direct); err == nil {
		*l = direct
		return nil
	}
	var wrapped struct {
		Stores []Store `json:"stores"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return err
	}
	*l = wrapped.Stores
	return nil
}
