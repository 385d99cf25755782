package report

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"kitchen-ledger/internal/order/adapter/memory"
	"kitchen-ledger/internal/order/app/core"
	"kitchen-ledger/internal/order/app/services"
	"kitchen-ledger/internal/order/domain/dto"
	"kitchen-ledger/internal/order/domain/models"
	"kitchen-ledger/internal/xpkg/logger"

	"github.com/shopspring/decimal"
)

func TestBuildAndRender(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 30, 0, 0, time.UTC)
	clock := core.ClockFunc(func() time.Time { return now })

	store := memory.New()
	catalog := memory.NewCatalog(
		models.Product{Ref: "pho", Name: "Pho", Price: decimal.RequireFromString("11.50"), Active: true},
		models.Product{Ref: "tea", Name: "Tea", Price: decimal.RequireFromString("3.00"), Active: true},
	)
	orders := services.NewOrderService(store, catalog, nil, services.NewRollupService(time.UTC, logger.Nop()),
		clock, services.OrderOptions{}, logger.Nop())
	for _, ref := range []string{"pho", "tea", "pho"} {
		if _, err := orders.Create(context.Background(), dto.OrderRequest{
			Type:  string(models.Takeaway),
			Items: []dto.Item{{ProductRef: ref, Quantity: 1}},
		}); err != nil {
			t.Fatal(err)
		}
	}

	as := services.NewAnalyticsService(store, clock, time.UTC, time.Second, logger.Nop())
	r, err := Build(context.Background(), as, Options{Days: 3, Reconcile: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(r.Series) != 3 || r.Today == nil || r.Reconciliation == nil || !r.Reconciliation.Consistent {
		t.Fatalf("report = %+v", r)
	}
	if len(r.Products) != 2 || r.Products[0].Name != "Pho" {
		t.Errorf("products = %+v", r.Products)
	}

	var buf bytes.Buffer
	if err := Render(&buf, r); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"Summary for 2024-06-01", "26.00", "Pho", "23.00", "12:00", "2024-05-30", "consistent"} {
		if !strings.Contains(out, want) {
			t.Errorf("output is missing %q:\n%s", want, out)
		}
	}
}

func TestValidateParams(t *testing.T) {
	t.Setenv("STORE", "memory")
	missing := filepath.Join(t.TempDir(), "none.yaml")
	tests := []struct {
		name    string
		args    []string
		wantErr bool
	}{
		{"defaults", []string{"--config-path", missing}, false},
		{"range", []string{"--config-path", missing, "--from", "2024-06-01", "--to", "2024-06-07"}, false},
		{"half range", []string{"--config-path", missing, "--from", "2024-06-01"}, true},
		{"bad date", []string{"--config-path", missing, "--from", "June", "--to", "July"}, true},
		{"zero days", []string{"--config-path", missing, "--days", "0"}, true},
		{"environment only", []string{"--config-path", "", "--days", "3"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := parseParams(tt.args)
			if err != nil {
				t.Fatal(err)
			}
			if err := validateParams(p); (err != nil) != tt.wantErr {
				t.Errorf("err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestEnvironmentOnlyConfigIsValidated(t *testing.T) {
	t.Setenv("STORE", "floppy")
	p, err := parseParams([]string{"--config-path", ""})
	if err != nil {
		t.Fatal(err)
	}
	if err := validateParams(p); err == nil {
		t.Fatal("expected an unknown store to be rejected")
	}
}

func TestExecuteOverEmptyMemoryStore(t *testing.T) {
	t.Setenv("STORE", "memory")
	var buf bytes.Buffer
	err := execute(context.Background(), logger.Nop(), []string{"--config-path", filepath.Join(t.TempDir(), "none.yaml"), "--days", "2"}, &buf)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "Daily revenue") {
		t.Errorf("output = %s", buf.String())
	}
}
