package models

import (
	"strconv"
)

// Sentinels substituted when a card lacks the corresponding sub-element.
const (
	NotAvailable = "N/A"
	NoSales      = "0 sold"
	NoRatings    = "No ratings"
	NoReviews    = "0 reviews"
	NoDiscount   = "No discount"
)

// Columns is the fixed export order of a ProductRecord.
var Columns = []string{
	"name",
	"url",
	"price_raw",
	"price_numeric",
	"sold_raw",
	"sold_count",
	"rating_raw",
	"reviews_raw",
	"review_count",
	"discount_raw",
}

// Price keeps the listed text next to its digits-and-dots form. Numeric is
// only parsed when aggregating.
type Price struct {
	Raw     string `json:"raw"`
	Numeric string `json:"numeric"`
}

// Float parses Numeric. ok is false for text such as "" or "1.2.3".
func (p Price) Float() (value float64, ok bool) {
	v, err := strconv.ParseFloat(p.Numeric, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// Count is a text counter ("120 sold", "(15)") and the integer read from it.
type Count struct {
	Raw   string `json:"raw"`
	Value int    `json:"value"`
}

// ProductRecord is one result card. Every field is always populated.
type ProductRecord struct {
	Name     string `json:"name"`
	URL      string `json:"url"`
	Price    Price  `json:"price"`
	Sold     Count  `json:"sold"`
	Rating   string `json:"rating"`
	Reviews  Count  `json:"reviews"`
	Discount string `json:"discount"`
}

// Row flattens the record in Columns order.
func (r ProductRecord) Row() []string {
	return []string{
		r.Name,
		r.URL,
		r.Price.Raw,
		r.Price.Numeric,
		r.Sold.Raw,
		strconv.Itoa(r.Sold.Value),
		r.Rating,
		r.Reviews.Raw,
		strconv.Itoa(r.Reviews.Value),
		r.Discount,
	}
}

// Missing lists the columns of r that hold a sentinel instead of scraped data.
func (r ProductRecord) Missing() []string {
	var missing []string

	if r.Name == NotAvailable {
		missing = append(missing, "name")
	}
	if r.URL == NotAvailable {
		missing = append(missing, "url")
	}
	if r.Price.Raw == NotAvailable {
		missing = append(missing, "price_raw")
	}
	if r.Sold.Raw == NoSales {
		missing = append(missing, "sold_raw")
	}
	if r.Rating == NoRatings {
		missing = append(missing, "rating_raw")
	}
	if r.Reviews.Raw == NoReviews {
		missing = append(missing, "reviews_raw")
	}
	if r.Discount == NoDiscount {
		missing = append(missing, "discount_raw")
	}

	return missing
}
