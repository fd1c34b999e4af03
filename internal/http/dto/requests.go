package dto

type CreativeRequest struct {
	Text        string  `json:"text"`
	ImageRef    *string `json:"image_ref,omitempty"`
	LinkURL     *string `json:"link_url,omitempty"`
	ButtonLabel *string `json:"button_label,omitempty"`
}

// CreateDealRequest carries Price for time deals (empty takes the channel price) and Budget for
// click deals.
type CreateDealRequest struct {
	AdvertiserUserID string          `json:"advertiser_user_id"`
	ChannelID        string          `json:"channel_id"`
	PricingMode      string          `json:"pricing_mode"`
	Price            *string         `json:"price,omitempty"`
	DurationSeconds  int             `json:"duration_seconds,omitempty"`
	Budget           *string         `json:"budget,omitempty"`
	Creative         CreativeRequest `json:"creative"`
}

type TransitionRequest struct {
	From        string  `json:"from"`
	To          string  `json:"to"`
	Reason      *string `json:"reason,omitempty"`
	ActorUserID *string `json:"actor_user_id,omitempty"`
}

type AmountRequest struct {
	Amount string `json:"amount"`
}

type RefundRequest struct {
	From string `json:"from"`
}

type RegisterChannelRequest struct {
	OwnerUserID      string  `json:"owner_user_id"`
	Username         string  `json:"username"`
	Title            *string `json:"title,omitempty"`
	PricePerDuration *string `json:"price_per_duration,omitempty"`
	PricePerClick    *string `json:"price_per_click,omitempty"`
}
