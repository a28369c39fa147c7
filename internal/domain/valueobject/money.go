package valueobject

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/ignatzorin/yodo-backend/internal/pkg/apperror"
)

// DefaultCurrency валюта платежей по умолчанию.
const DefaultCurrency = "RUB"

// moneyPlaces количество знаков после запятой для рублей.
const moneyPlaces = 2

var hundred = decimal.NewFromInt(100)

type Money struct {
	Amount   decimal.Decimal
	Currency string
}

func NewMoney(amount decimal.Decimal, currency string) (Money, error) {
	if amount.IsNegative() {
		return Money{}, apperror.New(apperror.ErrCodeValidation, "сумма не может быть отрицательной")
	}
	if !amount.Equal(RoundMoney(amount)) {
		return Money{}, apperror.New(apperror.ErrCodeValidation, "сумма должна содержать не более двух знаков после запятой")
	}
	if currency == "" {
		currency = DefaultCurrency
	}
	return Money{Amount: RoundMoney(amount), Currency: currency}, nil
}

// Value форматирует сумму так, как её ожидает платёжный шлюз: "1000.00".
func (m Money) Value() string {
	return m.Amount.StringFixed(moneyPlaces)
}

func (m Money) String() string {
	return fmt.Sprintf("%s %s", m.Value(), m.Currency)
}

// RoundMoney округляет до копеек, половина округляется от нуля.
func RoundMoney(v decimal.Decimal) decimal.Decimal {
	return v.Round(moneyPlaces)
}

// Percent возвращает percent% от amount, округлённые до копеек.
func Percent(amount, percent decimal.Decimal) decimal.Decimal {
	return RoundMoney(amount.Mul(percent).Div(hundred))
}

// FeeSplit делит стоимость заказа между платформой и специалистом.
type FeeSplit struct {
	Total      decimal.Decimal
	Fee        decimal.Decimal
	Specialist decimal.Decimal
}

// SplitFee считает комиссию платформы; доля специалиста получается вычитанием,
// поэтому Fee + Specialist всегда равны Total.
func SplitFee(total, feePercent decimal.Decimal) (FeeSplit, error) {
	if !total.IsPositive() {
		return FeeSplit{}, apperror.New(apperror.ErrCodeValidation, "стоимость заказа должна быть положительной")
	}
	if feePercent.IsNegative() || feePercent.GreaterThan(hundred) {
		return FeeSplit{}, apperror.New(apperror.ErrCodeValidation, "процент комиссии должен быть в диапазоне 0..100")
	}
	total = RoundMoney(total)
	fee := Percent(total, feePercent)
	return FeeSplit{
		Total:      total,
		Fee:        fee,
		Specialist: total.Sub(fee),
	}, nil
}

// EscrowCommission комиссия за удержание средств, считается от суммы платежа.
func EscrowCommission(amount, commissionPercent decimal.Decimal) decimal.Decimal {
	return Percent(amount, commissionPercent)
}

// Payout сумма, которую получает специалист после списания комиссии escrow.
func Payout(amount, commission decimal.Decimal) decimal.Decimal {
	return amount.Sub(commission)
}
