package gateway

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
)

// bodyKind は上流へ転送するリクエストボディの種類。
type bodyKind int

const (
	// bodyEmpty はボディを転送しないことを表す。
	bodyEmpty bodyKind = iota
	// bodyText はJSONまたはテキストをそのまま転送することを表す。
	bodyText
	// bodyBinary は任意のバイト列をそのまま転送することを表す。
	bodyBinary
	// bodyMultipart はマルチパートフォームを再構築して転送することを表す。
	bodyMultipart
)

// String はボディ種別の名前を返す。
func (k bodyKind) String() string {
	switch k {
	case bodyEmpty:
		return "empty"
	case bodyText:
		return "text"
	case bodyBinary:
		return "binary"
	case bodyMultipart:
		return "multipart"
	default:
		return "unknown"
	}
}

// outboundBody は上流へ転送するリクエストボディ。
type outboundBody struct {
	// kind はボディの種類。
	kind bodyKind
	// contentType は上流へ送るContent-Type。空の場合は付与しない。
	contentType string
	// data はボディのバイト列。
	data []byte
}

// reader は上流リクエスト用のReaderを返す。ボディが無い場合はnil。
func (b outboundBody) reader() io.Reader {
	if b.kind == bodyEmpty {
		return nil
	}
	return bytes.NewReader(b.data)
}

// classifyBody はメソッドとContent-Typeからボディの種類を決定する。
// GETとHEADは内容に関わらずボディを持たない。
func classifyBody(method, contentType string) bodyKind {
	if method == http.MethodGet || method == http.MethodHead {
		return bodyEmpty
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return bodyBinary
	}
	switch {
	case mediaType == "multipart/form-data":
		return bodyMultipart
	case mediaType == "application/json",
		strings.HasSuffix(mediaType, "+json"),
		strings.HasPrefix(mediaType, "text/"):
		return bodyText
	default:
		return bodyBinary
	}
}

// readBody はリクエストボディを種類に応じて読み取る。
func readBody(r *http.Request) (outboundBody, error) {
	contentType := r.Header.Get("Content-Type")

	switch kind := classifyBody(r.Method, contentType); kind {
	case bodyEmpty:
		return outboundBody{kind: bodyEmpty}, nil
	case bodyMultipart:
		return rebuildMultipart(r)
	default:
		data, err := io.ReadAll(r.Body)
		if err != nil {
			return outboundBody{}, fmt.Errorf("リクエストボディの読み取りに失敗: %w", err)
		}
		if kind == bodyBinary && contentType == "" && len(data) == 0 {
			return outboundBody{kind: bodyEmpty}, nil
		}
		return outboundBody{kind: kind, contentType: contentType, data: data}, nil
	}
}

// rebuildMultipart はマルチパートフォームを新しい境界文字列で書き直す。
// 受信したContent-Typeの境界はリクエスト固有のため、上流へはそのまま送らない。
// パートは受信した順序で、各パートのヘッダーと内容を変えずに書き出す。
func rebuildMultipart(r *http.Request) (outboundBody, error) {
	mr, err := r.MultipartReader()
	if err != nil {
		return outboundBody{}, fmt.Errorf("マルチパートフォームの解析に失敗: %w", err)
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	for {
		part, err := mr.NextRawPart()
		// 終端の境界に達した場合のみio.EOFがそのまま返る。途中で途切れた入力はラップされたエラーになる
		if err == io.EOF {
			break
		}
		if err != nil {
			return outboundBody{}, fmt.Errorf("マルチパートフォームの解析に失敗: %w", err)
		}
		if err := copyPart(w, part); err != nil {
			return outboundBody{}, err
		}
	}

	if err := w.Close(); err != nil {
		return outboundBody{}, fmt.Errorf("マルチパートの終端に失敗: %w", err)
	}
	return outboundBody{kind: bodyMultipart, contentType: w.FormDataContentType(), data: buf.Bytes()}, nil
}

// copyPart はパートのヘッダーと内容をそのまま書き込む。
func copyPart(w *multipart.Writer, part *multipart.Part) error {
	defer part.Close()

	dst, err := w.CreatePart(textproto.MIMEHeader(http.Header(part.Header).Clone()))
	if err != nil {
		return fmt.Errorf("パートの作成に失敗: %w", err)
	}
	if _, err := io.Copy(dst, part); err != nil {
		return fmt.Errorf("パートのコピーに失敗: %w", err)
	}
	return nil
}
