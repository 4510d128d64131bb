package htmlutil

import (
	"context"
	"net/url"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/require"
)

const page = `<html><body>
<div id="title">  Weekly
	listings
</div>
<a class="item" href="/item/1"> First <b>item</b> </a>
<a class="item" href="item/2">Second</a>
<a class="item">no href</a>
<form id="login" action="/auth">
	<input type="hidden" name="token" value="t0k3n">
	<input type="text" name="login">
	<input type="checkbox" name="remember" value="1">
	<input type="checkbox" name="terms" value="yes" checked>
	<input type="submit" name="go" value="Sign in">
</form>
</body></html>`

func document(t *testing.T) *goquery.Document {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	require.NoError(t, err)
	return doc
}

func TestText(t *testing.T) {
	doc := document(t)
	require.Equal(t, "Weekly listings", Text(doc.Find("#title")))
	require.Equal(t, "", Text(doc.Find("#missing")))
	require.Equal(t, "a b", Normalize("\ta \n  b\x00"))
}

func TestGetAnchors(t *testing.T) {
	doc := document(t)
	base, err := url.Parse("https://listings.example/list/")
	require.NoError(t, err)

	anchors := GetAnchors(context.Background(), doc.Find("a.item"), base)
	require.Equal(t, []Anchor{
		{Name: "First item", Href: "https://listings.example/item/1"},
		{Name: "Second", Href: "https://listings.example/list/item/2"},
	}, anchors)

	anchors = GetAnchors(context.Background(), doc.Find("a.item"), nil)
	require.Equal(t, "/item/1", anchors[0].Href)
}

func TestFormValues(t *testing.T) {
	values := FormValues(document(t).Find("form#login"))
	require.Equal(t, url.Values{
		"token": {"t0k3n"},
		"login": {""},
		"terms": {"yes"},
	}, values)
}
