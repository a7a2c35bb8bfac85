package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"github.com/Additional-Code/fulfillment/internal/actor"
	"github.com/Additional-Code/fulfillment/internal/app"
	backordersvc "github.com/Additional-Code/fulfillment/internal/service/backorder"
	ordersvc "github.com/Additional-Code/fulfillment/internal/service/order"
)

// actorFlags adds the acting user flags shared by the sales commands.
func actorFlags(cmd *cobra.Command) {
	cmd.Flags().Int64("user", 0, "Acting user id (0 runs as the system)")
	cmd.Flags().Int64("company", 0, "Acting company id")
	cmd.Flags().String("tz", "", "IANA timezone of the acting user")
}

func actorFrom(cmd *cobra.Command) actor.Actor {
	user, _ := cmd.Flags().GetInt64("user")
	company, _ := cmd.Flags().GetInt64("company")
	tz, _ := cmd.Flags().GetString("tz")
	act := actor.System(tz)
	act.UserID = user
	act.CompanyID = company
	return act
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", raw)
	}
	return id, nil
}

func newOrderCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "order",
		Short: "Operate on sales orders",
	}

	confirmCmd := &cobra.Command{
		Use:   "confirm [id]",
		Short: "Confirm an order, splitting off a backorder for missing stock",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			act := actorFrom(cmd)
			var orders *ordersvc.Service
			opts := fx.Options(app.Core, fx.Populate(&orders))
			return runWithApp(cmd.Context(), opts, func(ctx context.Context) error {
				res, err := orders.Confirm(ctx, act, id, ordersvc.ConfirmOptions{})
				if err != nil {
					return err
				}
				printConfirmation(cmd.OutOrStdout(), res)
				return nil
			})
		},
	}
	actorFlags(confirmCmd)

	cmd.AddCommand(confirmCmd)
	return cmd
}

func newBackorderCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backorder",
		Short: "Inspect and process backorders",
	}

	showCmd := &cobra.Command{
		Use:   "show [id]",
		Short: "Show a backorder with its replenishment projections",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withBackorders(cmd, func(ctx context.Context, svc *backordersvc.Service) error {
				view, err := svc.Get(ctx, id)
				if err != nil {
					return err
				}
				printBackorder(cmd.OutOrStdout(), view)
				return nil
			})
		},
	}

	confirmCmd := &cobra.Command{
		Use:   "confirm [id]",
		Short: "Confirm a backorder into follow-up orders",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			act := actorFrom(cmd)
			return withBackorders(cmd, func(ctx context.Context, svc *backordersvc.Service) error {
				res, err := svc.Confirm(ctx, act, id)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s confirmed into %d order(s)\n", res.Backorder.Name(), len(res.Orders))
				for _, follow := range res.Orders {
					printConfirmation(cmd.OutOrStdout(), follow)
				}
				return nil
			})
		},
	}
	actorFlags(confirmCmd)

	cancelCmd := &cobra.Command{
		Use:   "cancel [id]",
		Short: "Cancel a draft backorder",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			act := actorFrom(cmd)
			return withBackorders(cmd, func(ctx context.Context, svc *backordersvc.Service) error {
				bo, err := svc.Cancel(ctx, act, id)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s cancelled\n", bo.Name())
				return nil
			})
		},
	}
	actorFlags(cancelCmd)

	cmd.AddCommand(showCmd, confirmCmd, cancelCmd)
	return cmd
}

func withBackorders(cmd *cobra.Command, fn func(context.Context, *backordersvc.Service) error) error {
	var svc *backordersvc.Service
	opts := fx.Options(app.Core, fx.Populate(&svc))
	return runWithApp(cmd.Context(), opts, func(ctx context.Context) error {
		return fn(ctx, svc)
	})
}

func printConfirmation(w io.Writer, res *ordersvc.ConfirmResult) {
	switch {
	case res.Confirmed:
		fmt.Fprintf(w, "%s confirmed\n", res.Order.Number)
	default:
		fmt.Fprintf(w, "%s left in draft: no line could be confirmed\n", res.Order.Number)
	}
	if res.Backorder != nil {
		fmt.Fprintf(w, "%s created for %d short line(s)\n", res.Backorder.Name(), res.ShortLines)
	}
	if res.Order.RequestedDate != nil {
		fmt.Fprintf(w, "  requested date: %s\n", res.Order.RequestedDate.UTC().Format("2006-01-02 15:04 MST"))
	}
}

func printBackorder(w io.Writer, view *backordersvc.View) {
	fmt.Fprintf(w, "%s (%s) origin order %d\n", view.Name, view.Backorder.State, view.Backorder.OriginOrderID)
	for _, lv := range view.Lines {
		projected := "none"
		if lv.ProjectedDate != nil {
			projected = fmt.Sprintf("%s on %s", lv.ProjectedQuantity, lv.ProjectedDate.Format("2006-01-02"))
		}
		fmt.Fprintf(w, "  line %d product %d: short %s, confirmed %s, available %s, incoming %s\n",
			lv.Line.ID, lv.Line.ProductID, lv.Line.Quantity, lv.Line.ConfirmedQuantity, lv.AvailableNow, projected)
	}
	fmt.Fprintf(w, "  total: %s\n", view.Total)
	if view.ExpectedDate != nil {
		fmt.Fprintf(w, "  expected: %s\n", view.ExpectedDate.Format("2006-01-02"))
	}
	for _, order := range view.GeneratedOrders {
		fmt.Fprintf(w, "  generated %s (%s)\n", order.Number, order.State)
	}
}
