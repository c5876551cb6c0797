package database

import (
	"testing"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
)

type money struct {
	Amount decimal.Decimal  `bson:"amount"`
	Limit  *decimal.Decimal `bson:"limit"`
}

func TestDecimalCodecKeepsPrecision(t *testing.T) {
	reg := newRegistry()
	in := money{Amount: decimal.RequireFromString("30.10")}
	raw, err := bson.MarshalWithRegistry(reg, in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if got := bson.Raw(raw).Lookup("amount").Type.String(); got != "128-bit decimal" {
		t.Fatalf("expected decimal128 storage, got %s", got)
	}

	var out money
	if err = bson.UnmarshalWithRegistry(reg, raw, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !out.Amount.Equal(in.Amount) {
		t.Fatalf("expected %s, got %s", in.Amount, out.Amount)
	}
	if out.Limit != nil {
		t.Fatalf("expected nil limit, got %s", out.Limit)
	}
}

func TestDecimalCodecDecodesStrings(t *testing.T) {
	reg := newRegistry()
	raw, err := bson.Marshal(bson.D{{"amount", "12.5"}, {"limit", "99"}})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out money
	if err = bson.UnmarshalWithRegistry(reg, raw, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !out.Amount.Equal(decimal.RequireFromString("12.5")) {
		t.Fatalf("unexpected amount %s", out.Amount)
	}
	if out.Limit == nil || !out.Limit.Equal(decimal.NewFromInt(99)) {
		t.Fatalf("unexpected limit %v", out.Limit)
	}
}
