package arrears

import (
	"context"
	"errors"
	"testing"
	"time"
)

var now = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

func newEngine() (*Engine, *MemoryStore, *MemoryVehicles) {
	store := NewMemoryStore()
	vehicles := NewMemoryVehicles()
	e := NewEngine(store, vehicles, nil).WithClock(func() time.Time { return now })
	return e, store, vehicles
}

func TestRecordPayment_ShortfallOpensArrear(t *testing.T) {
	e, _, vehicles := newEngine()
	ctx := context.Background()
	vehicles.Set("veh_1", 100)

	arrear, err := e.RecordPayment(ctx, &Payment{
		TenantID:  "usr_1",
		VehicleID: "veh_1",
		Type:      PaymentRent,
		Amount:    60,
	})
	if err != nil {
		t.Fatalf("RecordPayment: %v", err)
	}
	if arrear == nil {
		t.Fatal("underpayment produced no arrear")
	}
	if arrear.AmountOwed != 40 {
		t.Errorf("owed = %d, want 40", arrear.AmountOwed)
	}
	if arrear.Status != ArrearPending {
		t.Errorf("status = %s", arrear.Status)
	}
	if arrear.PaymentID == "" {
		t.Error("arrear not tagged with originating payment")
	}
}

func TestRecordPayment_ArrearCarriesDriver(t *testing.T) {
	e, store, vehicles := newEngine()
	ctx := context.Background()
	vehicles.Set("veh_1", 100)

	arrear, err := e.RecordPayment(ctx, &Payment{
		TenantID:  "usr_1",
		DriverID:  "drv_7",
		VehicleID: "veh_1",
		Type:      PaymentRent,
		Amount:    60,
	})
	if err != nil {
		t.Fatalf("RecordPayment: %v", err)
	}
	if arrear.DriverID != "drv_7" {
		t.Errorf("arrear driver = %q, want drv_7", arrear.DriverID)
	}

	// Attribution survives the store round-trip on both records.
	pay, err := store.GetPayment(ctx, arrear.PaymentID)
	if err != nil {
		t.Fatalf("GetPayment: %v", err)
	}
	if pay.DriverID != "drv_7" {
		t.Errorf("payment driver = %q, want drv_7", pay.DriverID)
	}
	got, err := store.GetArrear(ctx, arrear.ID)
	if err != nil {
		t.Fatalf("GetArrear: %v", err)
	}
	if got.DriverID != "drv_7" {
		t.Errorf("stored arrear driver = %q, want drv_7", got.DriverID)
	}
}

func TestRecordPayment_FullPaymentNoArrear(t *testing.T) {
	e, store, vehicles := newEngine()
	ctx := context.Background()
	vehicles.Set("veh_1", 100)

	for _, amount := range []int64{100, 150} {
		arrear, err := e.RecordPayment(ctx, &Payment{
			TenantID: "usr_1", VehicleID: "veh_1", Type: PaymentRent, Amount: amount,
		})
		if err != nil {
			t.Fatalf("RecordPayment(%d): %v", amount, err)
		}
		if arrear != nil {
			t.Errorf("amount %d opened an arrear", amount)
		}
	}

	out, _ := store.ListArrears(ctx, "usr_1", "")
	if len(out) != 0 {
		t.Errorf("arrears = %d, want 0", len(out))
	}
}

func TestRecordPayment_NonRentIgnoresExpectedValue(t *testing.T) {
	e, store, vehicles := newEngine()
	ctx := context.Background()
	vehicles.Set("veh_1", 100)

	arrear, err := e.RecordPayment(ctx, &Payment{
		TenantID: "usr_1", VehicleID: "veh_1", Type: PaymentOther, Amount: 5,
	})
	if err != nil {
		t.Fatalf("RecordPayment: %v", err)
	}
	if arrear != nil {
		t.Error("non-rent payment opened an arrear")
	}

	out, _ := store.ListArrears(ctx, "usr_1", "")
	if len(out) != 0 {
		t.Errorf("arrears = %d", len(out))
	}
}

func TestRecordPayment_EachUnderpaymentIsItsOwnDebt(t *testing.T) {
	e, store, vehicles := newEngine()
	ctx := context.Background()
	vehicles.Set("veh_1", 100)

	_, _ = e.RecordPayment(ctx, &Payment{TenantID: "usr_1", VehicleID: "veh_1", Type: PaymentRent, Amount: 60})
	_, _ = e.RecordPayment(ctx, &Payment{TenantID: "usr_1", VehicleID: "veh_1", Type: PaymentRent, Amount: 70})

	out, _ := store.ListArrears(ctx, "usr_1", ArrearPending)
	if len(out) != 2 {
		t.Fatalf("arrears = %d, want 2", len(out))
	}
	var total int64
	for _, a := range out {
		total += a.AmountOwed
	}
	if total != 70 {
		t.Errorf("total owed = %d, want 70", total)
	}
}

func TestPay_PartialThenFull(t *testing.T) {
	e, _, vehicles := newEngine()
	ctx := context.Background()
	vehicles.Set("veh_1", 100)

	arrear, _ := e.RecordPayment(ctx, &Payment{TenantID: "usr_1", VehicleID: "veh_1", Type: PaymentRent, Amount: 60})

	// 40 owed; repay 25 leaves 15 pending.
	out, err := e.Pay(ctx, arrear.ID, 25)
	if err != nil {
		t.Fatalf("Pay: %v", err)
	}
	if out.AmountOwed != 15 || out.Status != ArrearPending {
		t.Errorf("after partial: owed=%d status=%s", out.AmountOwed, out.Status)
	}

	// Repay the remaining 15: paid, zero balance.
	out, err = e.Pay(ctx, arrear.ID, 15)
	if err != nil {
		t.Fatalf("Pay: %v", err)
	}
	if out.AmountOwed != 0 || out.Status != ArrearPaid {
		t.Errorf("after full: owed=%d status=%s", out.AmountOwed, out.Status)
	}
}

func TestPay_OverpaymentNeverGoesNegative(t *testing.T) {
	e, _, vehicles := newEngine()
	ctx := context.Background()
	vehicles.Set("veh_1", 100)

	arrear, _ := e.RecordPayment(ctx, &Payment{TenantID: "usr_1", VehicleID: "veh_1", Type: PaymentRent, Amount: 60})

	out, err := e.Pay(ctx, arrear.ID, 1000)
	if err != nil {
		t.Fatalf("Pay: %v", err)
	}
	if out.AmountOwed != 0 || out.Status != ArrearPaid {
		t.Errorf("owed=%d status=%s", out.AmountOwed, out.Status)
	}
}

func TestPay_PaidArrearIsNoOp(t *testing.T) {
	e, _, vehicles := newEngine()
	ctx := context.Background()
	vehicles.Set("veh_1", 100)

	arrear, _ := e.RecordPayment(ctx, &Payment{TenantID: "usr_1", VehicleID: "veh_1", Type: PaymentRent, Amount: 60})
	_, _ = e.Pay(ctx, arrear.ID, 40)

	out, err := e.Pay(ctx, arrear.ID, 40)
	if err != nil {
		t.Fatalf("Pay on paid arrear: %v", err)
	}
	if out.Status != ArrearPaid || out.AmountOwed != 0 {
		t.Errorf("paid arrear changed: %+v", out)
	}
}

func TestPay_RejectsNonPositiveAmount(t *testing.T) {
	e, _, vehicles := newEngine()
	vehicles.Set("veh_1", 100)
	arrear, _ := e.RecordPayment(context.Background(), &Payment{TenantID: "usr_1", VehicleID: "veh_1", Type: PaymentRent, Amount: 60})

	for _, amount := range []int64{0, -5} {
		if _, err := e.Pay(context.Background(), arrear.ID, amount); !errors.Is(err, ErrInvalidAmount) {
			t.Errorf("Pay(%d): got %v", amount, err)
		}
	}
}

func TestDeletePayment_CascadesToArrear(t *testing.T) {
	e, store, vehicles := newEngine()
	ctx := context.Background()
	vehicles.Set("veh_1", 100)

	first := &Payment{TenantID: "usr_1", VehicleID: "veh_1", Type: PaymentRent, Amount: 60}
	if _, err := e.RecordPayment(ctx, first); err != nil {
		t.Fatalf("RecordPayment: %v", err)
	}
	paymentID := first.ID

	// A second, unrelated underpayment must survive the cascade.
	_, _ = e.RecordPayment(ctx, &Payment{TenantID: "usr_1", VehicleID: "veh_1", Type: PaymentRent, Amount: 70})

	if err := e.DeletePayment(ctx, paymentID); err != nil {
		t.Fatalf("DeletePayment: %v", err)
	}

	out, _ := store.ListArrears(ctx, "usr_1", "")
	if len(out) != 1 {
		t.Fatalf("arrears after cascade = %d, want 1", len(out))
	}
	if out[0].PaymentID == paymentID {
		t.Error("cascade left the originated arrear behind")
	}
	if out[0].AmountOwed != 30 {
		t.Errorf("surviving arrear owed = %d, want 30", out[0].AmountOwed)
	}
}

func TestDeletePayment_Unknown(t *testing.T) {
	e, _, _ := newEngine()
	if err := e.DeletePayment(context.Background(), "nope"); !errors.Is(err, ErrPaymentNotFound) {
		t.Errorf("got %v, want ErrPaymentNotFound", err)
	}
}

func TestRecordPayment_UnknownVehicle(t *testing.T) {
	e, _, _ := newEngine()
	_, err := e.RecordPayment(context.Background(), &Payment{
		TenantID: "usr_1", VehicleID: "veh_missing", Type: PaymentRent, Amount: 60,
	})
	if !errors.Is(err, ErrVehicleNotFound) {
		t.Errorf("got %v, want ErrVehicleNotFound", err)
	}
}
