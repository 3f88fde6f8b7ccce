package whatsapp

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

const DefaultAPIURL = "https://graph.facebook.com/v21.0"

type Client struct {
	phoneNumberID string
	http          *resty.Client
}

func NewClient(apiURL, phoneNumberID, accessToken string, timeout time.Duration) *Client {
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}
	client := resty.New()
	client.SetBaseURL(apiURL)
	client.SetAuthToken(accessToken)
	client.SetTimeout(timeout)

	return &Client{
		phoneNumberID: phoneNumberID,
		http:          client,
	}
}

func (c *Client) SendText(ctx context.Context, to, body string) error {
	msg := SendMessageRequest{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               to,
		Type:             "text",
		Text:             &SendText{Body: body},
	}
	return c.send(ctx, msg)
}

func (c *Client) SendInteractiveButtons(ctx context.Context, to, body string, buttons []Button) error {
	msg := SendMessageRequest{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               to,
		Type:             "interactive",
		Interactive: &Interactive{
			Type:   "button",
			Body:   InteractiveBody{Text: body},
			Action: InteractiveAction{Buttons: buttons},
		},
	}
	return c.send(ctx, msg)
}

// SendImage uploads data as media and sends it to the recipient with caption.
func (c *Client) SendImage(ctx context.Context, to, name, contentType string, data []byte, caption string) error {
	mediaID, err := c.UploadMedia(ctx, name, contentType, data)
	if err != nil {
		return err
	}
	return c.sendImage(ctx, to, &Image{ID: mediaID, Caption: caption})
}

// SendImageLink sends an image Meta fetches from link itself.
func (c *Client) SendImageLink(ctx context.Context, to, link, caption string) error {
	return c.sendImage(ctx, to, &Image{Link: link, Caption: caption})
}

func (c *Client) sendImage(ctx context.Context, to string, img *Image) error {
	msg := SendMessageRequest{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               to,
		Type:             "image",
		Image:            img,
	}
	return c.send(ctx, msg)
}

// UploadMedia stores data on Meta's side and returns the media ID.
// Reference: https://developers.facebook.com/docs/whatsapp/cloud-api/reference/media#upload-media
func (c *Client) UploadMedia(ctx context.Context, name, contentType string, data []byte) (string, error) {
	const op = "whatsapp.Client.UploadMedia"

	var out MediaResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetMultipartFormData(map[string]string{
			"messaging_product": "whatsapp",
			"type":              contentType,
		}).
		SetMultipartField("file", name, contentType, bytes.NewReader(data)).
		SetResult(&out).
		Post(fmt.Sprintf("/%s/media", c.phoneNumberID))
	if err != nil {
		return "", fmt.Errorf("%s: uploading media: %w", op, err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("%s: whatsapp API status %d: %s", op, resp.StatusCode(), resp.Body())
	}
	if out.ID == "" {
		return "", fmt.Errorf("%s: no media id in response", op)
	}
	return out.ID, nil
}

func (c *Client) send(ctx context.Context, msg SendMessageRequest) error {
	const op = "whatsapp.Client.send"

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(msg).
		Post(fmt.Sprintf("/%s/messages", c.phoneNumberID))
	if err != nil {
		return fmt.Errorf("%s: sending message: %w", op, err)
	}
	if resp.IsError() {
		return fmt.Errorf("%s: whatsapp API status %d: %s", op, resp.StatusCode(), resp.Body())
	}
	return nil
}
