package request

// TelegramAuthRequest is the request body for exchanging Telegram init data
// for a session token
type TelegramAuthRequest struct {
	InitData string `json:"init_data"`
}

// CollectRequest is the request body for collecting an item
type CollectRequest struct {
	ItemID string `json:"item_id"`
}
