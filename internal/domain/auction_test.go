package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestActiveAt_WindowIsHalfOpen(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)
	a := &Auction{Status: StatusOngoing, StartTime: start, EndTime: end}

	cases := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"before start", start.Add(-time.Second), false},
		{"exactly at start", start, true},
		{"inside window", start.Add(30 * time.Minute), true},
		{"exactly at end", end, false},
		{"after end", end.Add(time.Second), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := a.ActiveAt(tc.at); got != tc.want {
				t.Errorf("ActiveAt(%v) = %v, want %v", tc.at, got, tc.want)
			}
		})
	}
}

func TestActiveAt_RequiresOngoingStatus(t *testing.T) {
	start := time.Now().Add(-time.Minute)
	end := time.Now().Add(time.Hour)

	for _, status := range []AuctionStatus{StatusPending, StatusEnded} {
		a := &Auction{Status: status, StartTime: start, EndTime: end}
		if a.ActiveAt(time.Now()) {
			t.Errorf("ActiveAt with status %s = true, want false", status)
		}
	}
}

func TestFloorPrice(t *testing.T) {
	a := &Auction{StartingBid: dec("100")}
	if got := a.FloorPrice(); !got.Equal(dec("100")) {
		t.Errorf("FloorPrice with no bids = %s, want 100", got)
	}

	highest := dec("150.50")
	a.CurrentHighestBid = &highest
	if got := a.FloorPrice(); !got.Equal(highest) {
		t.Errorf("FloorPrice with highest bid = %s, want %s", got, highest)
	}
}

func TestBeats_StrictlyGreater(t *testing.T) {
	highest := dec("150")
	a := &Auction{StartingBid: dec("100"), CurrentHighestBid: &highest}

	if a.Beats(dec("150")) {
		t.Error("Beats(150) with highest 150 = true, want false (ties lose)")
	}
	if !a.Beats(dec("150.01")) {
		t.Error("Beats(150.01) with highest 150 = false, want true")
	}
}

func TestValidateBid_SettlementDecision(t *testing.T) {
	highest := dec("150")
	cases := []struct {
		name    string
		status  AuctionStatus
		highest *decimal.Decimal
		amount  string
		want    error
	}{
		{"pending auction", StatusPending, nil, "500", ErrAuctionNotActive},
		{"ended auction", StatusEnded, &highest, "500", ErrAuctionNotActive},
		{"equal to starting bid with no bids", StatusOngoing, nil, "100", ErrBidConflict},
		{"below starting bid", StatusOngoing, nil, "99.99", ErrBidConflict},
		{"first bid above starting bid", StatusOngoing, nil, "100.01", nil},
		{"equal to highest bid", StatusOngoing, &highest, "150", ErrBidConflict},
		{"below highest bid", StatusOngoing, &highest, "120", ErrBidConflict},
		{"above highest bid", StatusOngoing, &highest, "150.01", nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a := &Auction{
				Status:            tc.status,
				StartingBid:       dec("100"),
				CurrentHighestBid: tc.highest,
			}
			if got := a.ValidateBid(dec(tc.amount)); !errors.Is(got, tc.want) {
				t.Errorf("ValidateBid(%s) = %v, want %v", tc.amount, got, tc.want)
			}
		})
	}
}

func TestIsConflict_CoversTerminalRejections(t *testing.T) {
	for _, err := range []error{ErrAuctionNotActive, ErrBidTooLow, ErrBidConflict, ErrAlreadyInRoom, ErrNotInRoom} {
		if !IsConflict(err) {
			t.Errorf("IsConflict(%v) = false, want true", err)
		}
	}
	for _, err := range []error{ErrAuctionNotFound, ErrUserNotFound, ErrRateLimited, errors.New("boom")} {
		if IsConflict(err) {
			t.Errorf("IsConflict(%v) = true, want false", err)
		}
	}
}

func TestRetryable_SurvivesWrapping(t *testing.T) {
	err := Retryable(errors.New("connection refused"))
	if !IsRetryable(err) {
		t.Error("IsRetryable(Retryable(err)) = false, want true")
	}
	if IsRetryable(ErrBidConflict) {
		t.Error("IsRetryable(ErrBidConflict) = true, want false")
	}
	if Retryable(nil) != nil {
		t.Error("Retryable(nil) should be nil")
	}
}
