package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/xenking/cake-heaven/internal/domain/product"
)

const listLimit = 8

func (h *Handler) searchProducts(c *gin.Context) {
	f, err := productFilter(c)
	if err != nil {
		fail(c, err)
		return
	}
	page, err := h.catalog.Search(c.Request.Context(), f)
	if err != nil {
		fail(c, err)
		return
	}
	out := *page
	out.Items = h.withImages(page.Items)
	c.JSON(http.StatusOK, out)
}

func productFilter(c *gin.Context) (product.Filter, error) {
	f := product.Filter{
		Keyword:  c.Query("keyword"),
		Category: c.Query("category"),
		Flavor:   c.Query("flavor"),
		Shape:    c.Query("shape"),
		Occasion: c.Query("occasion"),
		Festival: c.Query("festival"),
		CakeType: c.Query("cakeType"),
		Sort:     product.Sort(c.Query("sort")),
	}
	var err error
	if f.Page, f.Limit, err = paging(c); err != nil {
		return f, err
	}
	if f.MinPrice, err = queryDecimal(c, "minPrice"); err != nil {
		return f, err
	}
	if f.MaxPrice, err = queryDecimal(c, "maxPrice"); err != nil {
		return f, err
	}
	if rating, err := queryDecimal(c, "minRating"); err != nil {
		return f, err
	} else if rating != nil {
		f.MinRating = rating.InexactFloat64()
	}
	for name, dst := range map[string]*bool{"inStock": &f.InStock, "featured": &f.Featured} {
		b, err := queryBool(c, name)
		if err != nil {
			return f, err
		}
		if b != nil {
			*dst = *b
		}
	}
	return f, nil
}

func (h *Handler) categories(c *gin.Context) {
	list, err := h.catalog.Categories(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *Handler) featured(c *gin.Context) {
	limit, err := queryInt(c, "limit", listLimit)
	if err != nil {
		fail(c, err)
		return
	}
	list, err := h.catalog.Featured(c.Request.Context(), limit)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, h.withImages(list))
}

func (h *Handler) topRated(c *gin.Context) {
	limit, err := queryInt(c, "limit", listLimit)
	if err != nil {
		fail(c, err)
		return
	}
	list, err := h.catalog.TopRated(c.Request.Context(), limit)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, h.withImages(list))
}

func (h *Handler) getProduct(c *gin.Context) {
	p, err := h.catalog.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, h.withImage(*p))
}

func (h *Handler) reviews(c *gin.Context) {
	list, err := h.catalog.Reviews(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *Handler) addReview(c *gin.Context) {
	var in struct {
		Rating  int    `json:"rating"`
		Comment string `json:"comment"`
	}
	if !bind(c, &in) {
		return
	}
	ctx := c.Request.Context()
	v := viewer(c)
	u, err := h.accounts.Profile(ctx, v.UserID)
	if err != nil {
		fail(c, err)
		return
	}
	r, err := h.catalog.AddReview(ctx, c.Param("id"), v.UserID, u.Name, in.Rating, in.Comment)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, r)
}

func (h *Handler) createProduct(c *gin.Context) {
	var in product.Input
	if !bind(c, &in) {
		return
	}
	p, err := h.catalog.Create(c.Request.Context(), in)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, h.withImage(*p))
}

func (h *Handler) updateProduct(c *gin.Context) {
	var in product.Input
	if !bind(c, &in) {
		return
	}
	p, err := h.catalog.Update(c.Request.Context(), c.Param("id"), in)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, h.withImage(*p))
}

func (h *Handler) deleteProduct(c *gin.Context) {
	if err := h.catalog.Delete(c.Request.Context(), c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) adjustStock(c *gin.Context) {
	var in struct {
		Delta int `json:"delta"`
	}
	if !bind(c, &in) {
		return
	}
	stock, err := h.catalog.AdjustStock(c.Request.Context(), c.Param("id"), in.Delta)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": c.Param("id"), "stock": stock})
}

// withImage prefixes relative image paths with the configured base URL.
func (h *Handler) withImage(p product.Product) product.Product {
	if h.imageBaseURL == "" || len(p.Images) == 0 {
		return p
	}
	images := make([]string, len(p.Images))
	for i, img := range p.Images {
		images[i] = h.imageURL(img)
	}
	p.Images = images
	return p
}

func (h *Handler) withImages(list []product.Product) []product.Product {
	out := make([]product.Product, len(list))
	for i, p := range list {
		out[i] = h.withImage(p)
	}
	return out
}

func (h *Handler) imageURL(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return strings.TrimRight(h.imageBaseURL, "/") + "/" + strings.TrimLeft(path, "/")
}
