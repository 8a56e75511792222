package marketplace

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

// DraftListing is the payload for creating a draft digital listing
type DraftListing struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Price       float64  `json:"price"`
	Quantity    int      `json:"quantity"`
	Tags        []string `json:"tags"`
	TaxonomyID  int      `json:"taxonomy_id,omitempty"`
	WhoMade     string   `json:"who_made"`
	WhenMade    string   `json:"when_made"`
	IsSupply    bool     `json:"is_supply"`
	Type        string   `json:"type"`
}

// Listing is the subset of a marketplace listing the agent reads
type Listing struct {
	ListingID   int64    `json:"listing_id"`
	State       string   `json:"state"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	URL         string   `json:"url"`
	Tags        []string `json:"tags"`
	Views       int      `json:"views"`
	NumFavorers int      `json:"num_favorers"`
	Price       Money    `json:"price"`
}

// SearchResult is a page of public listings
type SearchResult struct {
	Count   int       `json:"count"`
	Results []Listing `json:"results"`
}

func (c *Client) shopPath(format string, args ...any) string {
	return fmt.Sprintf("/shops/%d", c.cfg.ShopID) + fmt.Sprintf(format, args...)
}

// SearchListings queries active public listings by keyword
func (c *Client) SearchListings(ctx context.Context, keywords string, limit, offset int) (*SearchResult, error) {
	q := url.Values{
		"keywords": {keywords},
		"limit":    {strconv.Itoa(limit)},
		"offset":   {strconv.Itoa(offset)},
	}
	var out SearchResult
	if err := c.PublicRequest(ctx, http.MethodGet, "/listings/active", nil, q, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateDraftListing creates a draft and returns it with its remote id
func (c *Client) CreateDraftListing(ctx context.Context, d DraftListing) (*Listing, error) {
	if d.Quantity == 0 {
		d.Quantity = 999
	}
	if d.WhoMade == "" {
		d.WhoMade = "i_did"
	}
	if d.WhenMade == "" {
		d.WhenMade = "made_to_order"
	}
	if d.Type == "" {
		d.Type = "download"
	}

	var out Listing
	if err := c.Request(ctx, http.MethodPost, c.shopPath("/listings"), d, nil, &out); err != nil {
		return nil, err
	}
	if out.ListingID == 0 {
		return nil, &MalformedResponseError{Path: "listings", Status: http.StatusOK, Err: fmt.Errorf("missing listing_id")}
	}
	return &out, nil
}

// UploadListingImage attaches an image to a listing
func (c *Client) UploadListingImage(ctx context.Context, listingID int64, fileName string, data []byte, contentType string) error {
	body := &Multipart{
		FieldName:   "image",
		FileName:    fileName,
		ContentType: contentType,
		Content:     data,
	}
	var out map[string]any
	return c.Request(ctx, http.MethodPost, c.shopPath("/listings/%d/images", listingID), body, nil, &out)
}

// UploadListingFile attaches the downloadable file to a listing
func (c *Client) UploadListingFile(ctx context.Context, listingID int64, fileName string, data []byte) error {
	body := &Multipart{
		FieldName: "file",
		FileName:  fileName,
		Content:   data,
		Fields:    map[string]string{"name": fileName},
	}
	var out map[string]any
	return c.Request(ctx, http.MethodPost, c.shopPath("/listings/%d/files", listingID), body, nil, &out)
}

// ActivateListing flips a draft to active and returns the live listing
func (c *Client) ActivateListing(ctx context.Context, listingID int64) (*Listing, error) {
	var out Listing
	err := c.Request(ctx, http.MethodPatch, c.shopPath("/listings/%d", listingID),
		map[string]string{"state": "active"}, nil, &out)
	if err != nil {
		return nil, err
	}
	if out.ListingID == 0 {
		out.ListingID = listingID
	}
	return &out, nil
}
