package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/tallybook/tallybook/internal/auth"
	"github.com/tallybook/tallybook/internal/billing"
	"github.com/tallybook/tallybook/internal/database"
	"github.com/tallybook/tallybook/internal/maintenance"
)

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the database and seed it when it does not exist yet",
		RunE: withApp(func(ctx context.Context, a *app) error {
			// openApp already ran EnsureReady; report what is there
			users, err := a.db.CountUsers(ctx)
			if err != nil {
				return err
			}
			products, err := a.db.CountProducts(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Database ready at %s (created: %t, users: %d, products: %d)\n",
				a.db.Path(), a.db.Created(), users, products)
			return nil
		}),
	}
}

func newLoginCmd() *cobra.Command {
	var username string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Check a username and password",
		RunE: withApp(func(ctx context.Context, a *app) error {
			password, err := readPassword("Password: ")
			if err != nil {
				return err
			}
			role, err := a.auth.Authenticate(ctx, username, password)
			if errors.Is(err, auth.ErrAuthFailed) {
				return errors.New("login failed: invalid username or password")
			}
			if err != nil {
				return err
			}
			fmt.Printf("Welcome, %s (%s)\n", username, role)
			return nil
		}),
	}
	cmd.Flags().StringVarP(&username, "username", "u", "", "Username")
	_ = cmd.MarkFlagRequired("username")
	return cmd
}

func newUserCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage user accounts",
	}

	var role string
	add := &cobra.Command{
		Use:   "add USERNAME",
		Short: "Register a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := auth.ParseRole(role)
			if err != nil {
				return err
			}
			return withApp(func(ctx context.Context, a *app) error {
				password, err := readPassword("New password: ")
				if err != nil {
					return err
				}
				user, err := a.auth.Register(ctx, args[0], password, r)
				if errors.Is(err, auth.ErrUsernameTaken) {
					return fmt.Errorf("cannot register %q: username already exists", args[0])
				}
				if err != nil {
					return err
				}
				fmt.Printf("User %q registered as %s\n", user.Username, user.Role)
				return nil
			})(cmd, args)
		},
	}
	add.Flags().StringVarP(&role, "role", "r", string(auth.RoleStaff), "Role: admin or staff")

	passwd := &cobra.Command{
		Use:   "passwd USERNAME",
		Short: "Change a user's password",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				current, err := readPassword("Current password: ")
				if err != nil {
					return err
				}
				next, err := readPassword("New password: ")
				if err != nil {
					return err
				}
				if err := a.auth.ChangePassword(ctx, args[0], current, next); err != nil {
					if errors.Is(err, auth.ErrAuthFailed) {
						return errors.New("password not changed: invalid username or password")
					}
					return err
				}
				fmt.Println("Password changed")
				return nil
			})(cmd, args)
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List user accounts",
		RunE: withApp(func(ctx context.Context, a *app) error {
			users, err := a.db.ListUsers(ctx)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tUSERNAME\tROLE\tCREATED")
			for _, u := range users {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", u.ID, u.Username, u.Role, u.CreatedAt.Format("2006-01-02 15:04"))
			}
			return w.Flush()
		}),
	}

	cmd.AddCommand(add, passwd, list)
	return cmd
}

func newCategoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "category",
		Short: "Manage product categories",
	}

	var description string
	add := &cobra.Command{
		Use:   "add NAME",
		Short: "Add a category",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				c, err := a.db.CreateCategory(ctx, args[0], description)
				if errors.Is(err, database.ErrUniqueViolation) {
					return fmt.Errorf("category %q already exists", args[0])
				}
				if err != nil {
					return err
				}
				fmt.Printf("Category %q added (id %d)\n", c.Name, c.ID)
				return nil
			})(cmd, args)
		},
	}
	add.Flags().StringVar(&description, "description", "", "Category description")

	del := &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a category that no product uses",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withApp(func(ctx context.Context, a *app) error {
				return reportDelete("category", id, a.db.DeleteCategory(ctx, id))
			})(cmd, args)
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List categories",
		RunE: withApp(func(ctx context.Context, a *app) error {
			categories, err := a.db.ListCategories(ctx)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tDESCRIPTION")
			for _, c := range categories {
				fmt.Fprintf(w, "%d\t%s\t%s\n", c.ID, c.Name, c.Description)
			}
			return w.Flush()
		}),
	}

	cmd.AddCommand(add, del, list)
	return cmd
}

func newProductCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "product",
		Short: "Manage products and stock",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List products",
		RunE: withApp(func(ctx context.Context, a *app) error {
			products, err := a.db.ListProducts(ctx)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tCATEGORY\tPRICE\tSTOCK")
			for _, p := range products {
				category := "-"
				if p.CategoryID != nil {
					category = strconv.FormatInt(*p.CategoryID, 10)
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\n", p.ID, p.Name, category, p.Price.StringFixed(2), p.Stock)
			}
			return w.Flush()
		}),
	}

	var (
		categoryID int64
		price      string
		stock      int64
	)
	add := &cobra.Command{
		Use:   "add NAME",
		Short: "Add a product",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := parseMoney("price", price)
			if err != nil {
				return err
			}
			var category *int64
			if cmd.Flags().Changed("category") {
				category = &categoryID
			}
			return withApp(func(ctx context.Context, a *app) error {
				product, err := a.db.CreateProduct(ctx, args[0], category, p, stock)
				switch {
				case errors.Is(err, database.ErrUniqueViolation):
					return fmt.Errorf("product %q already exists", args[0])
				case errors.Is(err, database.ErrInUse):
					return fmt.Errorf("category %d does not exist", categoryID)
				case errors.Is(err, database.ErrCheckViolation):
					return errors.New("price and stock must not be negative")
				case err != nil:
					return err
				}
				fmt.Printf("Product %q added (id %d)\n", product.Name, product.ID)
				return nil
			})(cmd, args)
		},
	}
	add.Flags().Int64Var(&categoryID, "category", 0, "Category id (omit for uncategorized)")
	add.Flags().StringVar(&price, "price", "0", "Unit price")
	add.Flags().Int64Var(&stock, "stock", 0, "Units in stock")

	restock := &cobra.Command{
		Use:   "restock ID DELTA",
		Short: "Add (or with a negative delta remove) units of stock",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			delta, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid delta %q: %w", args[1], err)
			}
			return withApp(func(ctx context.Context, a *app) error {
				err := a.db.AdjustStock(ctx, id, delta)
				switch {
				case errors.Is(err, database.ErrNotFound):
					return fmt.Errorf("product %d not found", id)
				case errors.Is(err, database.ErrCheckViolation):
					return errors.New("stock cannot go below zero")
				case err != nil:
					return err
				}
				fmt.Printf("Stock of product %d adjusted by %d\n", id, delta)
				return nil
			})(cmd, args)
		},
	}

	del := &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a product that was never sold",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withApp(func(ctx context.Context, a *app) error {
				return reportDelete("product", id, a.db.DeleteProduct(ctx, id))
			})(cmd, args)
		},
	}

	cmd.AddCommand(list, add, restock, del)
	return cmd
}

func newCustomerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "customer",
		Short: "Manage customers",
	}

	var c database.Customer
	add := &cobra.Command{
		Use:   "add NAME",
		Short: "Add a customer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c.Name = args[0]
			return withApp(func(ctx context.Context, a *app) error {
				err := a.db.CreateCustomer(ctx, &c)
				if errors.Is(err, database.ErrUniqueViolation) {
					return errors.New("another customer already uses this email or phone")
				}
				if err != nil {
					return err
				}
				fmt.Printf("Customer %q added (id %d)\n", c.Name, c.ID)
				return nil
			})(cmd, args)
		},
	}
	add.Flags().StringVar(&c.Email, "email", "", "Email address")
	add.Flags().StringVar(&c.Phone, "phone", "", "Phone number")
	add.Flags().StringVar(&c.Address, "address", "", "Postal address")

	del := &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a customer without invoices",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withApp(func(ctx context.Context, a *app) error {
				return reportDelete("customer", id, a.db.DeleteCustomer(ctx, id))
			})(cmd, args)
		},
	}

	cmd.AddCommand(add, del)
	return cmd
}

func newSaleCmd() *cobra.Command {
	var (
		items      []string
		customerID int64
		discount   string
		pay        bool
		amount     string
		method     string
	)
	cmd := &cobra.Command{
		Use:   "sale",
		Short: "Record a sale",
		Example: `  tallybook sale --item 1:2 --item 3:1 --discount 10 --pay
  tallybook sale --customer 4 --item 2:1 --pay --method card`,
		RunE: func(cmd *cobra.Command, args []string) error {
			sale := billing.Sale{}
			for _, item := range items {
				line, err := parseLine(item)
				if err != nil {
					return err
				}
				sale.Lines = append(sale.Lines, line)
			}
			d, err := parseMoney("discount", discount)
			if err != nil {
				return err
			}
			sale.Discount = d
			if cmd.Flags().Changed("customer") {
				sale.CustomerID = &customerID
			}
			if pay {
				amt, err := parseMoney("amount", amount)
				if err != nil {
					return err
				}
				sale.Payment = &billing.PaymentInput{Amount: amt, Method: method}
			}

			return withApp(func(ctx context.Context, a *app) error {
				id, err := a.billing.RecordSale(ctx, sale)
				if err != nil {
					return err
				}
				return printInvoice(ctx, a, id)
			})(cmd, args)
		},
	}
	cmd.Flags().StringArrayVarP(&items, "item", "i", nil, "Line as PRODUCT_ID:QUANTITY (repeatable)")
	cmd.Flags().Int64Var(&customerID, "customer", 0, "Customer id (omit for a walk-in sale)")
	cmd.Flags().StringVar(&discount, "discount", "0", "Discount taken off the sale amount")
	cmd.Flags().BoolVar(&pay, "pay", false, "Record the payment together with the sale")
	cmd.Flags().StringVar(&amount, "amount", "0", "Amount paid (0 pays the invoice total)")
	cmd.Flags().StringVar(&method, "method", "", "Payment method (default from settings, usually cash)")
	_ = cmd.MarkFlagRequired("item")
	return cmd
}

func newPaymentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "payment",
		Short: "Manage invoice payments",
	}

	var method string
	add := &cobra.Command{
		Use:   "add INVOICE_ID AMOUNT",
		Short: "Record the payment of an invoice",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			amount, err := parseMoney("amount", args[1])
			if err != nil {
				return err
			}
			return withApp(func(ctx context.Context, a *app) error {
				p, err := a.billing.RecordPayment(ctx, id, amount, method)
				if err != nil {
					return err
				}
				fmt.Printf("Payment %d recorded for invoice %d: %s (%s)\n", p.ID, p.InvoiceID, p.AmountPaid.StringFixed(2), p.Method)
				return nil
			})(cmd, args)
		},
	}
	add.Flags().StringVar(&method, "method", "", "Payment method (default from settings, usually cash)")

	cmd.AddCommand(add)
	return cmd
}

func newInvoiceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "invoice",
		Short: "Inspect invoices",
	}
	show := &cobra.Command{
		Use:   "show ID",
		Short: "Print an invoice with its items and payment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withApp(func(ctx context.Context, a *app) error {
				return printInvoice(ctx, a, id)
			})(cmd, args)
		},
	}
	cmd.AddCommand(show)
	return cmd
}

func newMaintenanceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "maintenance",
		Short: "Database housekeeping",
	}

	optimize := &cobra.Command{
		Use:   "optimize",
		Short: "Refresh query planner statistics",
		RunE: withApp(func(ctx context.Context, a *app) error {
			return maintenance.Run(ctx, a.db, maintenance.TaskOptimize)
		}),
	}
	vacuum := &cobra.Command{
		Use:   "vacuum",
		Short: "Rebuild the database file to reclaim space",
		RunE: withApp(func(ctx context.Context, a *app) error {
			return maintenance.Run(ctx, a.db, maintenance.TaskVacuum)
		}),
	}

	var (
		schedule string
		task     string
	)
	scheduleCmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run a maintenance task on a cron schedule until interrupted",
		RunE: withApp(func(ctx context.Context, a *app) error {
			if err := maintenance.Task(task).Validate(); err != nil {
				return err
			}
			s := maintenance.NewScheduler(a.db, maintenance.Task(task))
			if err := s.Start(schedule); err != nil {
				return fmt.Errorf("invalid schedule %q: %w", schedule, err)
			}
			defer s.Stop()

			// ctx is cancelled on SIGINT/SIGTERM
			<-ctx.Done()
			return nil
		}),
	}
	scheduleCmd.Flags().StringVar(&schedule, "cron", "@daily", "Cron expression or descriptor")
	scheduleCmd.Flags().StringVar(&task, "task", string(maintenance.TaskOptimize), "Task: optimize or vacuum")

	cmd.AddCommand(optimize, vacuum, scheduleCmd)
	return cmd
}

func printInvoice(ctx context.Context, a *app, id int64) error {
	view, err := a.billing.Invoice(ctx, id)
	if err != nil {
		return err
	}
	inv := view.Invoice

	customer := "walk-in"
	if inv.CustomerID != nil {
		customer = strconv.FormatInt(*inv.CustomerID, 10)
	}
	fmt.Printf("Invoice %d  %s  customer: %s\n", inv.ID, inv.CreatedAt.Format("2006-01-02 15:04"), customer)

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PRODUCT\tQTY\tSUBTOTAL")
	for _, it := range view.Items {
		fmt.Fprintf(w, "%d\t%d\t%s\n", it.ProductID, it.Quantity, it.Subtotal.StringFixed(2))
	}
	fmt.Fprintf(w, "\tdiscount\t-%s\n", inv.Discount.StringFixed(2))
	fmt.Fprintf(w, "\ttotal\t%s\n", inv.TotalAmount.StringFixed(2))
	if view.Payment != nil {
		fmt.Fprintf(w, "\tpaid (%s)\t%s\n", view.Payment.Method, view.Payment.AmountPaid.StringFixed(2))
	} else {
		fmt.Fprintln(w, "\tpaid\t-")
	}
	return w.Flush()
}

func reportDelete(kind string, id int64, err error) error {
	switch {
	case errors.Is(err, database.ErrNotFound):
		return fmt.Errorf("%s %d not found", kind, id)
	case errors.Is(err, database.ErrInUse):
		return fmt.Errorf("%s %d is still referenced and cannot be deleted", kind, id)
	case err != nil:
		return err
	}
	fmt.Printf("Deleted %s %d\n", kind, id)
	return nil
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}

func parseMoney(name, s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid %s %q: %w", name, s, err)
	}
	return d, nil
}

// parseLine parses PRODUCT_ID:QUANTITY.
func parseLine(s string) (billing.Line, error) {
	idPart, qtyPart, ok := strings.Cut(s, ":")
	if !ok {
		return billing.Line{}, fmt.Errorf("invalid item %q (want PRODUCT_ID:QUANTITY)", s)
	}
	id, err := parseID(idPart)
	if err != nil {
		return billing.Line{}, fmt.Errorf("invalid item %q: %w", s, err)
	}
	qty, err := strconv.ParseInt(qtyPart, 10, 64)
	if err != nil {
		return billing.Line{}, fmt.Errorf("invalid item %q: bad quantity", s)
	}
	return billing.Line{ProductID: id, Quantity: qty}, nil
}
