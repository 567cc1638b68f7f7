package api

import "net/http"

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)

	mux.HandleFunc("GET /api/products", s.handleListProducts)
	mux.HandleFunc("GET /api/products/filter", s.handleFilterProducts)
	mux.HandleFunc("GET /api/products/search", s.handleSearchProducts)
	mux.HandleFunc("GET /api/products/{id}", s.handleGetProduct)
	mux.HandleFunc("POST /api/products", s.requireAuth(s.handleCreateProduct))
	mux.HandleFunc("PUT /api/products/{id}", s.requireAuth(s.handleUpdateProduct))
	mux.HandleFunc("DELETE /api/products/{id}", s.requireAuth(s.handleDeleteProduct))

	mux.HandleFunc("GET /api/brands", s.handleListBrands)
	mux.HandleFunc("GET /api/categories", s.handleListCategories)

	mux.HandleFunc("GET /api/cart/user/{userId}", s.requireAuth(s.handleGetCart))
	mux.HandleFunc("POST /api/cart/create", s.requireAuth(s.handleCreateCart))
	mux.HandleFunc("POST /api/cart/add-item", s.requireAuth(s.handleAddCartItem))
	mux.HandleFunc("PUT /api/cart/update-item", s.requireAuth(s.handleUpdateCartItem))
	mux.HandleFunc("DELETE /api/cart/remove-item", s.requireAuth(s.handleRemoveCartItem))
	mux.HandleFunc("POST /api/cart/clear", s.requireAuth(s.handleClearCart))

	mux.HandleFunc("POST /api/orders", s.requireAuth(s.handlePlaceOrder))
	mux.HandleFunc("GET /api/orders", s.requireAdmin(s.handleListOrders))
	mux.HandleFunc("GET /api/orders/{orderId}", s.requireAuth(s.handleGetOrder))
	mux.HandleFunc("GET /api/orders/user/{userId}", s.requireAuth(s.handleListUserOrders))
	mux.HandleFunc("PUT /api/orders/{orderId}/status", s.requireAdmin(s.handleUpdateOrderStatus))
	mux.HandleFunc("DELETE /api/orders/{orderId}", s.requireAuth(s.handleDeleteOrder))

	mux.HandleFunc("GET /api/wishlist/{userId}", s.requireAuth(s.handleListWishlist))
	mux.HandleFunc("GET /api/wishlist/{userId}/{productId}", s.requireAuth(s.handleCheckWishlist))
	mux.HandleFunc("POST /api/wishlist", s.requireAuth(s.handleAddToWishlist))
	mux.HandleFunc("POST /api/wishlist/toggle", s.requireAuth(s.handleToggleWishlist))
	mux.HandleFunc("DELETE /api/wishlist/{userId}/{productId}", s.requireAuth(s.handleRemoveFromWishlist))
	mux.HandleFunc("DELETE /api/wishlist/{userId}", s.requireAuth(s.handleClearWishlist))

	mux.HandleFunc("POST /api/users/register", s.rateLimit(s.requireAuth(s.handleRegister)))
	mux.HandleFunc("POST /api/users/login", s.rateLimit(s.requireAuth(s.handleLogin)))
	mux.HandleFunc("GET /api/users/{id}", s.requireAuth(s.handleGetUser))
	mux.HandleFunc("DELETE /api/users/{id}", s.requireAuth(s.handleDeleteUser))

	mux.HandleFunc("POST /api/newsletter/subscribe", s.rateLimit(s.handleSubscribe))
	mux.HandleFunc("POST /api/newsletter/unsubscribe", s.rateLimit(s.handleUnsubscribe))
	mux.HandleFunc("GET /api/newsletter/subscribers", s.requireAdmin(s.handleListSubscribers))

	mux.HandleFunc("POST /api/payments/webhook", s.handlePaymentWebhook)

	return mux
}
