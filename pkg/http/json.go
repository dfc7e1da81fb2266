package xhttp

import "encoding/json"

func ReadJSON(ctx *RequestCtx, dst any) error {
	return json.Unmarshal(ctx.PostBody(), dst)
}

func WriteJSON(ctx *RequestCtx, status int, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		ctx.Error(StatusText(StatusInternalServerError), StatusInternalServerError)
		return
	}
	ctx.Response.Header.Set("Content-Type", "application/json; charset=utf-8")
	ctx.Response.SetStatusCode(status)
	ctx.Response.SetBodyRaw(b)
}

func WriteError(ctx *RequestCtx, status int, msg string) {
	WriteJSON(ctx, status, map[string]string{"error": msg})
}
