package crawler

import (
	"reflect"
	"testing"
)

// --- Order ID Extraction Tests ---

func TestExtractOrderIDsFromCards(t *testing.T) {
	html := `
	<html><body>
		<div data-testid="order-card">
			<span>Order placed June 3, 2024</span>
			<span>Order # 701-1111111-2222222</span>
		</div>
		<div id="ordersContainer-0">
			<section>
				<a href="/order-details?orderID=702-3333333-4444444">Order # 702-3333333-4444444</a>
			</section>
		</div>
		<div class="a-box-group">
			<span>ORDER # 703-5555555-6666666</span>
		</div>
	</body></html>`

	got := extractOrderIDs(html)
	want := []string{"701-1111111-2222222", "702-3333333-4444444", "703-5555555-6666666"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("extractOrderIDs = %v, want %v", got, want)
	}
}

func TestExtractOrderIDsDeduplicates(t *testing.T) {
	html := `
	<html><body>
		<div class="order"><span>Order # 701-1111111-2222222</span></div>
		<div class="order"><span>Order # 701-1111111-2222222</span></div>
		<div class="order"><span>Order # 702-3333333-4444444</span></div>
	</body></html>`

	got := extractOrderIDs(html)
	want := []string{"701-1111111-2222222", "702-3333333-4444444"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("extractOrderIDs = %v, want %v", got, want)
	}
}

func TestExtractOrderIDsSkipsCardsWithoutID(t *testing.T) {
	html := `
	<html><body>
		<div class="order"><span>Your orders will appear here.</span></div>
		<div class="order"><span>Order # 701-1111111-2222222</span></div>
	</body></html>`

	got := extractOrderIDs(html)
	want := []string{"701-1111111-2222222"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("extractOrderIDs = %v, want %v", got, want)
	}
}

func TestExtractOrderIDsIgnoresLooseText(t *testing.T) {
	// IDs outside any order card should not be harvested.
	html := `
	<html><body>
		<p>Reference 701-1111111-2222222 appears in a banner.</p>
	</body></html>`

	if got := extractOrderIDs(html); got != nil {
		t.Errorf("expected no IDs outside cards, got %v", got)
	}
}

func TestExtractOrderIDsEmptyPage(t *testing.T) {
	if got := extractOrderIDs("<html><body></body></html>"); got != nil {
		t.Errorf("expected no IDs on an empty page, got %v", got)
	}
}

// --- Order Link Filter Tests ---

func TestLooksLikeOrderLinkAnyCase(t *testing.T) {
	for _, text := range []string{
		"Order # 701-1111111-2222222",
		"ORDER # 701-1111111-2222222",
		"view order details",
	} {
		if !looksLikeOrderLink(text) {
			t.Errorf("looksLikeOrderLink(%q) = false, want true", text)
		}
	}
	if looksLikeOrderLink("Track package") {
		t.Error(`looksLikeOrderLink("Track package") = true, want false`)
	}
}

// --- History URL Tests ---

func TestHistoryURL(t *testing.T) {
	tests := []struct {
		name string
		base string
		year int
		want string
	}{
		{
			name: "default listing",
			base: "https://www.amazon.ca",
			year: 0,
			want: "https://www.amazon.ca/gp/your-account/order-history",
		},
		{
			name: "year filter",
			base: "https://www.amazon.ca",
			year: 2023,
			want: "https://www.amazon.ca/gp/your-account/order-history?orderFilter=year-2023",
		},
		{
			name: "trailing slash on base",
			base: "https://www.amazon.ca/",
			year: 0,
			want: "https://www.amazon.ca/gp/your-account/order-history",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := historyURL(tt.base, tt.year); got != tt.want {
				t.Errorf("historyURL(%q, %d) = %q, want %q", tt.base, tt.year, got, tt.want)
			}
		})
	}
}
